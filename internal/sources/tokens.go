package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/coff33ninja/vrm-auto-scraper/internal/fileutil"
)

// Tokens is the persisted OAuth token set for an account-bound source.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	// ExpiresAt is a Unix timestamp in seconds; zero means unknown.
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

// tokenSkew refreshes slightly before the reported expiry.
const tokenSkew = 60 * time.Second

// Expired reports whether the access token should be refreshed at now.
func (t Tokens) Expired(now time.Time) bool {
	if t.ExpiresAt <= 0 {
		return false
	}
	return !now.Add(tokenSkew).Before(time.Unix(t.ExpiresAt, 0))
}

// LoadTokens reads a token file. A missing file returns an error matching
// os.ErrNotExist.
func LoadTokens(path string) (Tokens, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tokens{}, err
	}
	var tokens Tokens
	if err := json.Unmarshal(data, &tokens); err != nil {
		return Tokens{}, fmt.Errorf("parse token file %s: %w", path, err)
	}
	return tokens, nil
}

// SaveTokens writes the token file atomically with owner-only permissions.
func SaveTokens(path string, tokens Tokens) error {
	if path == "" {
		return errors.New("token file path is empty")
	}
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, append(data, '\n'), 0o600)
}
