package gateway

import (
	"net/http"
	"strings"

	"github.com/Rajchodisetti/account-stream/internal/apperr"
)

// Authenticator establishes the viewer behind a request
type Authenticator interface {
	Viewer(r *http.Request) (string, error)
}

// AuthFunc adapts a function to Authenticator
type AuthFunc func(r *http.Request) (string, error)

func (f AuthFunc) Viewer(r *http.Request) (string, error) { return f(r) }

// TokenAuthenticator maps static bearer tokens to viewer ids. The access_token
// query parameter is accepted for EventSource callers that cannot set headers.
type TokenAuthenticator map[string]string

func (t TokenAuthenticator) Viewer(r *http.Request) (string, error) {
	token := r.URL.Query().Get("access_token")
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", apperr.Unauthorized("unsupported authorization scheme")
		}
		token = strings.TrimSpace(value)
	}
	if token == "" {
		return "", apperr.Unauthorized("missing bearer token")
	}
	viewer, ok := t[token]
	if !ok || viewer == "" {
		return "", apperr.Unauthorized("unknown token")
	}
	return viewer, nil
}
