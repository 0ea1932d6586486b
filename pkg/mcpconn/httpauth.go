package mcpconn

import (
	"net/http"

	"golang.org/x/oauth2"
)

// decorateHTTPClient clones base (http.DefaultClient when nil) and installs a
// RoundTripper that injects the configured headers and authorization on every
// request the transport makes.
func decorateHTTPClient(base *http.Client, headers http.Header, bearerToken string, source oauth2.TokenSource) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	clone := *base
	clone.Transport = &headerDecorator{
		next:        defaultRoundTripper(base.Transport),
		headers:     headers,
		bearerToken: bearerToken,
		tokenSource: source,
	}
	return &clone
}

type headerDecorator struct {
	next        http.RoundTripper
	headers     http.Header
	bearerToken string
	tokenSource oauth2.TokenSource
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, values := range d.headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Authorization") == "" {
		switch {
		case d.bearerToken != "":
			req.Header.Set("Authorization", "Bearer "+d.bearerToken)
		case d.tokenSource != nil:
			token, err := d.tokenSource.Token()
			if err != nil {
				return nil, err
			}
			token.SetAuthHeader(req)
		}
	}
	return d.next.RoundTrip(req)
}

func defaultRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}
