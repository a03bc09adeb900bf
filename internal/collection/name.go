// Package collection derives vector store partition names from uploaded
// file names.
package collection

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxLength bounds every collection name.
	MaxLength = 50
	// MinLength is the shortest name the vector store accepts.
	MinLength = 3

	saltedBaseLength = 30
	pad              = "xyz"
)

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Name turns a file name into a collection name. When token is non-empty
// the result is "<base>-<token>" and still fits in MaxLength.
//
// The result is always 3 to 50 characters of [A-Za-z0-9-] and starts and
// ends with a letter or digit. Without a token two files whose stems
// sanitise to the same string share a collection.
func Name(fileName, token string) string {
	base := nonAlnum.ReplaceAllString(stem(fileName), "-")

	limit := MaxLength
	token = strings.Trim(nonAlnum.ReplaceAllString(token, "-"), "-")
	if token != "" {
		limit = saltedBaseLength
	}
	base = truncate(base, limit)
	base = fixEdges(base)

	if token == "" {
		return base
	}
	if len(token) > MaxLength-MinLength-1 {
		token = strings.TrimRight(token[:MaxLength-MinLength-1], "-")
	}
	base = fixEdges(truncate(base, MaxLength-len(token)-1))
	return base + "-" + token
}

// NewToken returns a uniqueness token: unix seconds plus eight random hex
// characters.
func NewToken(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.Unix(), uuid.NewString()[:8])
}

// Salted names a file with a fresh token.
func Salted(fileName string, now time.Time) string {
	return Name(fileName, NewToken(now))
}

func stem(fileName string) string {
	base := path.Base(strings.ReplaceAll(fileName, `\`, "/"))
	if base == "." || base == "/" {
		return ""
	}
	ext := path.Ext(base)
	if ext == base {
		// dotfiles such as ".bashrc" have no extension
		return base
	}
	return strings.TrimSuffix(base, ext)
}

func truncate(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if len(s) > n {
		return s[:n]
	}
	return s
}

func fixEdges(s string) string {
	if len(s) < MinLength {
		s += pad
	}
	b := []byte(s)
	if !isAlnum(b[0]) {
		b[0] = 'A'
	}
	if !isAlnum(b[len(b)-1]) {
		b[len(b)-1] = 'Z'
	}
	return string(b)
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
