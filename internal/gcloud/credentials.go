// Package gcloud holds helpers shared by the Google Cloud clients.
package gcloud

import (
	"os"

	"google.golang.org/api/option"
)

// CredentialOptions returns client options for inline or file credentials.
// With neither set the Google client falls back to application default credentials.
func CredentialOptions() []option.ClientOption {
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(credJSON))}
	}
	if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		return []option.ClientOption{option.WithCredentialsFile(credFile)}
	}
	return nil
}
