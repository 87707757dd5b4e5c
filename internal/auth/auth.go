// Package auth resolves API bearer tokens to principals holding scopes over
// pipelines, the shader cache, metrics and the event stream.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

const (
	ScopeAll          = "*"
	ScopePipelineHash = "pipelines:hash"
	ScopeBuild        = "pipelines:build"
	ScopeCacheRead    = "cache:ro"
	ScopeCacheWrite   = "cache:rw"
	ScopeMetrics      = "metrics:ro"
	ScopeEvents       = "events:ro"
)

// impliedScopes lists what each scope grants besides itself. A build reports
// the pipeline hash, and writing the cache includes reading it.
var impliedScopes = map[string][]string{
	ScopeBuild:      {ScopePipelineHash},
	ScopeCacheWrite: {ScopeCacheRead},
}

var (
	ErrNoCredentials   = errors.New("missing Authorization header")
	ErrMalformedHeader = errors.New("invalid Authorization header format")
	ErrEmptyToken      = errors.New("missing API key")
)

// TokenConfig is one configured bearer token (api.auth.tokens).
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Principal is the caller behind a matched token.
type Principal struct {
	Token  string
	Scopes map[string]struct{}
}

// Has reports whether p holds scope directly or through "*".
func (p Principal) Has(scope string) bool {
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	_, ok := p.Scopes[scope]
	return ok
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ExtractBearerToken returns the token of an "Authorization: Bearer" header.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoCredentials
	}
	rest, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", ErrMalformedHeader
	}
	token := strings.TrimSpace(rest)
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

// tokenMatches compares in constant time. An unset secret never matches.
func tokenMatches(presented, secret string) bool {
	if presented == "" || secret == "" || len(presented) != len(secret) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1
}

// Authenticate resolves presented against api.auth. The api_key grants
// every scope; a listed token grants its scopes plus their implications.
func Authenticate(presented string, apiKey string, tokens []TokenConfig) (Principal, bool) {
	if tokenMatches(presented, apiKey) {
		return Principal{Token: presented, Scopes: map[string]struct{}{ScopeAll: {}}}, true
	}
	for _, t := range tokens {
		if tokenMatches(presented, t.Token) {
			return Principal{Token: presented, Scopes: expandScopes(t.Scopes)}, true
		}
	}
	return Principal{}, false
}

func expandScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		out[s] = struct{}{}
		for _, implied := range impliedScopes[s] {
			out[implied] = struct{}{}
		}
	}
	return out
}

// HasAnyScope reports whether p holds one of required. An empty requirement
// list passes.
func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	for _, s := range required {
		if p.Has(s) {
			return true
		}
	}
	return false
}
