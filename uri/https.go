package uri

import (
	"net/url"
)

// Https is a validated HTTPS URI, used for RRDP notification URLs.
type Https struct {
	raw string
}

// ParseHttps parses s, requiring the https scheme and a non-empty host.
func ParseHttps(s string) (Https, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Https{}, err
	}
	if u.Scheme != "https" || u.Host == "" {
		return Https{}, errNotHTTPS(s)
	}
	return Https{raw: s}, nil
}

// String returns the original URI text.
func (h Https) String() string {
	return h.raw
}

type notHTTPSError struct {
	uri string
}

func (e *notHTTPSError) Error() string {
	return "not an https URI: " + e.uri
}

func errNotHTTPS(s string) error {
	return &notHTTPSError{uri: s}
}
