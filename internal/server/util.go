package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loykin/ptyvisor/internal/domain"
)

// maxKeyLen bounds handle keys; they end up in transcript file names and
// metric labels.
const maxKeyLen = 64

// sanitizeBase normalizes a mount prefix to "" or "/x" without a trailing slash.
func sanitizeBase(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

// isSafeKey reports whether s may be used as a handle key. Allowed
// characters are A-Z a-z 0-9 . _ - with no "..".
func isSafeKey(s string) bool {
	if s == "" || len(s) > maxKeyLen || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// isSafeWorkDir accepts an empty path (the supervisor picks one) or an
// absolute path that is already clean apart from trailing separators.
func isSafeWorkDir(p string) bool {
	if p == "" {
		return true
	}
	if !filepath.IsAbs(p) {
		return false
	}
	clean := filepath.Clean(p)
	trimmed := strings.TrimRight(p, string(filepath.Separator))
	if trimmed == "" {
		trimmed = p
	}
	return clean == p || clean == trimmed
}

// visibleDomain parses s and rejects domains that never leave the process.
func visibleDomain(s string) (domain.Domain, error) {
	d, err := domain.Parse(s)
	if err != nil {
		return "", err
	}
	p, err := domain.Lookup(d)
	if err != nil {
		return "", err
	}
	if p.Hidden {
		return "", fmt.Errorf("%w: %q is internal", domain.ErrUnknownDomain, s)
	}
	return d, nil
}

var errBadKey = errors.New("invalid key: allowed [A-Za-z0-9._-], at most 64 characters, no '..'")

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

func writeError(c *gin.Context, code int, msg string) {
	writeJSON(c, code, errorResp{Error: msg})
}
