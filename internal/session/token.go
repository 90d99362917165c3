package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// token is the on-disk shape of a persisted access token.
type token struct {
	AccessToken string    `json:"access_token"`
	SavedAt     time.Time `json:"saved_at"`
}

// SaveToken persists the access token at path with owner-only
// permissions, creating parent dirs as needed.
func SaveToken(path, accessToken string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.Marshal(token{AccessToken: accessToken, SavedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadToken reads a previously saved access token. A missing file is
// not an error; it returns the empty string.
func LoadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var t token
	if err := json.Unmarshal(data, &t); err != nil {
		return "", fmt.Errorf("parse token file: %w", err)
	}
	return t.AccessToken, nil
}

// ClearToken removes the saved token. Safe to call when none exists.
func ClearToken(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
