// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API credentials from a directory of plain-text
// files. Each file in the directory represents one secret: the filename
// is the key name and the file contents (trimmed) are the value.
//
// Supported key files: reddit-client-id, reddit-client-secret,
// reddit-user-agent. Environment variables (optionally seeded from a
// .env file) override the file values.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Key file names recognized in the secrets directory.
const (
	KeyClientID     = "reddit-client-id"
	KeyClientSecret = "reddit-client-secret"
	KeyUserAgent    = "reddit-user-agent"
)

// Environment variable overrides.
const (
	EnvClientID     = "REDDIT_CLIENT_ID"
	EnvClientSecret = "REDDIT_CLIENT_SECRET"
	EnvUserAgent    = "REDDIT_USER_AGENT"
)

// DefaultUserAgent identifies the collector to the upstream API when no
// override is configured.
const DefaultUserAgent = "reddit-collector/1.0"

// Credentials is the resolved Reddit API credential set.
type Credentials struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
}

// Validate reports whether the credential set is usable.
func (c Credentials) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("missing reddit client id (set %s or %s)", EnvClientID, KeyClientID)
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("missing reddit client secret (set %s or %s)", EnvClientSecret, KeyClientSecret)
	}
	return nil
}

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files produce a warning on stderr but do not abort.
func Load(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not read secret %s: %v\n", name, err)
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Resolve builds the credential set from the secrets directory, overridden
// by the process environment. When envFile names an existing file it is
// loaded into the environment first; a missing .env file is not an error.
func Resolve(secretsDir, envFile string) (Credentials, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Credentials{}, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	}

	stored, err := Load(secretsDir)
	if err != nil {
		return Credentials{}, err
	}

	creds := Credentials{
		ClientID:     stored[KeyClientID],
		ClientSecret: stored[KeyClientSecret],
		UserAgent:    stored[KeyUserAgent],
	}
	if v := os.Getenv(EnvClientID); v != "" {
		creds.ClientID = v
	}
	if v := os.Getenv(EnvClientSecret); v != "" {
		creds.ClientSecret = v
	}
	if v := os.Getenv(EnvUserAgent); v != "" {
		creds.UserAgent = v
	}
	if creds.UserAgent == "" {
		creds.UserAgent = DefaultUserAgent
	}
	return creds, nil
}
