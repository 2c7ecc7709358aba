// Package authheader maps client settings to an Authorization header value.
//
// Settings are classified by the capabilities they expose rather than by
// their concrete type: any value implementing BasicCredentials produces a
// Basic header, any value implementing BearerCredentials produces a Bearer
// header, and anything else produces no header at all.
package authheader

import (
	"encoding/base64"
	"strings"
)

const (
	SchemeBasic  = "Basic"
	SchemeBearer = "Bearer"

	// HeaderName is the request header written by this package.
	HeaderName = "Authorization"
)

// Settings is the minimal view of a client configuration.
type Settings interface {
	BaseURL() string
}

// BasicCredentials is implemented by settings that authenticate with a
// username and password.
type BasicCredentials interface {
	Credentials() (username, password string)
}

// BearerCredentials is implemented by settings that authenticate with a
// static bearer token.
type BearerCredentials interface {
	BearerToken() string
}

// Kind names the capability a settings value was classified as.
type Kind int

const (
	KindNone Kind = iota
	KindBasic
	KindBearer
)

func (k Kind) String() string {
	switch k {
	case KindBasic:
		return "basic"
	case KindBearer:
		return "bearer"
	default:
		return "none"
	}
}

// Classify reports which capability s exposes. Basic credentials take
// precedence when a value implements both.
func Classify(s any) Kind {
	switch s.(type) {
	case BasicCredentials:
		return KindBasic
	case BearerCredentials:
		return KindBearer
	default:
		return KindNone
	}
}

// Determine returns the Authorization header value for s. The boolean is
// false when no header should be attached: s has no capability, the bearer
// token is empty, or both basic credentials are empty.
func Determine(s any) (string, bool) {
	switch c := s.(type) {
	case BasicCredentials:
		username, password := c.Credentials()
		return Basic(username, password)
	case BearerCredentials:
		return Bearer(c.BearerToken())
	default:
		return "", false
	}
}

// Basic formats a Basic header. Credentials are encoded as single-byte ASCII:
// runes outside the ASCII range are replaced with '?'.
func Basic(username, password string) (string, bool) {
	if username == "" && password == "" {
		return "", false
	}

	encoded := base64.StdEncoding.EncodeToString(asciiBytes(username + ":" + password))
	return SchemeBasic + " " + encoded, true
}

// Bearer formats a Bearer header, refusing to produce one for an empty token.
func Bearer(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	return SchemeBearer + " " + token, true
}

func asciiBytes(s string) []byte {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r > 0x7f {
			r = '?'
		}
		b.WriteByte(byte(r))
	}
	return []byte(b.String())
}
