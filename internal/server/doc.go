// Package server provides the HTTP surface of the Drive relay.
//
// # Routes
//
//   - GET /auth returns the Google consent URL as {"authUrl": "..."}.
//   - GET /oauth2callback exchanges the authorization code and stores the token.
//   - POST /upload stages the multipart "photo" field, uploads it to the
//     account's root Drive folder, shares it with anyone holding the link and
//     returns the public download URL.
//   - GET /healthz, /readyz and /healthz/detailed serve Kubernetes probes.
//
// All routes sit behind permissive CORS and per-route request metrics.
//
// MetricsServer exposes Prometheus metrics on a separate port.
package server
