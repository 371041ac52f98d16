package gcp

import (
	"os"
	"strings"

	"google.golang.org/api/option"
)

// ClientOptionsFromEnv reads service account credentials either inline
// (JSON) or from a file path.
func ClientOptionsFromEnv() []option.ClientOption {
	return ClientOptions(firstNonEmpty(
		os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"),
		os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
	))
}

func ClientOptions(creds string) []option.ClientOption {
	creds = strings.TrimSpace(creds)
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
