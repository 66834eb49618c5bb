package usage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Credential is the OAuth token stored by the target CLI. It is only read.
type Credential struct {
	AccessToken string
	// ExpiresAt is zero when the file carries no expiry.
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at now.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ReadCredential reads the "<provider>Oauth" object from the JSON file at
// path. A leading "~" expands to the home directory.
func ReadCredential(path, provider string) (Credential, error) {
	path = ExpandHome(path)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credential{}, fmt.Errorf("%w: %s", ErrNoCredential, path)
		}
		return Credential{}, fmt.Errorf("read credential: %w", err)
	}
	if !gjson.ValidBytes(b) {
		return Credential{}, fmt.Errorf("read credential %s: invalid json", path)
	}
	obj := gjson.GetBytes(b, provider+"Oauth")
	tok := obj.Get("accessToken").String()
	if tok == "" {
		return Credential{}, fmt.Errorf("%w: %s has no %sOauth.accessToken", ErrNoCredential, path, provider)
	}
	c := Credential{AccessToken: tok}
	if ms := obj.Get("expiresAt").Int(); ms > 0 {
		c.ExpiresAt = time.UnixMilli(ms)
	}
	return c, nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") && !strings.HasPrefix(p, `~\`) {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[1:])
}
