package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the driverelay application
var rootCmd = &cobra.Command{
	Use:   "driverelay",
	Short: "Relays photo uploads to Google Drive",
	Long: `driverelay is a small HTTP relay that obtains Google OAuth consent for a
Drive account, keeps the resulting token, and uploads files posted to it into
that account's Drive, returning a public download link.

Endpoints:
  GET  /auth            returns the Google consent URL
  GET  /oauth2callback  completes consent and stores the token
  POST /upload          uploads the multipart "photo" field to Drive`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "driverelay version %s\n" .Version}}`)

	// If no subcommand is provided, run the relay server by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
