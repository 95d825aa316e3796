// Package drive is a thin Google Drive v3 client used by the relay to create
// files and share them.
//
// Every call is traced with an OpenTelemetry span and, when metrics are
// attached via WithMetrics, counted as a Google API operation.
//
//	client, err := drive.NewClient(ctx, authenticatedHTTPClient)
//	info, err := client.UploadFile(ctx, "photo.jpg", f, &drive.UploadOptions{
//		ParentFolders: []string{drive.RootFolderID},
//		MimeType:      "image/jpeg",
//	})
//	_, err = client.ShareFile(ctx, info.ID, drive.PublicReadOptions())
//	link := drive.PublicDownloadURL(info.ID)
package drive
