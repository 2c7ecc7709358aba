package authheader

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// Transport attaches a header computed from bound settings to every
// outgoing request. It keeps no state between requests and never inspects
// responses: use it for APIs whose credentials do not need renewal.
type Transport struct {
	settings any
	base     http.RoundTripper
}

// NewTransport returns a Transport deriving its header from settings. A nil
// base uses http.DefaultTransport.
func NewTransport(settings any, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		settings: settings,
		base:     base,
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request
	out := req.Clone(req.Context())

	if value, ok := Determine(t.settings); ok {
		out.Header.Set(HeaderName, value)
	} else {
		log.Ctx(req.Context()).Debug().
			Str("host", req.URL.Host).
			Msg("no credentials configured, sending request without authorization")
		out.Header.Del(HeaderName)
	}

	return t.base.RoundTrip(out)
}
