package google

import (
	drive "google.golang.org/api/drive/v3"
)

// DriveFileScope grants access only to files the relay itself creates.
const DriveFileScope = drive.DriveFileScope

// DefaultOAuthScopes are the scopes requested on the consent screen.
var DefaultOAuthScopes = []string{
	DriveFileScope,
}
