package config

import (
	"os"
	"path/filepath"
	"strings"
)

const defaultAPIURL = "http://localhost:8080"

const tokenFileName = ".juport_token"

// APIURL returns the base URL for the juport API.
// It can be overridden with the JUPORT_API_URL environment variable.
func APIURL() string {
	if v := os.Getenv("JUPORT_API_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	return defaultAPIURL
}

// TokenPath is where the bearer token is stored, in the user's home directory.
func TokenPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, tokenFileName), nil
}

// Token returns JUPORT_TOKEN when set, else the saved token. Empty means
// requests go out without Authorization.
func Token() string {
	if v := os.Getenv("JUPORT_TOKEN"); v != "" {
		return v
	}
	p, err := TokenPath()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SaveToken writes token to TokenPath, readable only by the user.
func SaveToken(token string) error {
	p, err := TokenPath()
	if err != nil {
		return err
	}
	return os.WriteFile(p, []byte(token+"\n"), 0o600)
}
