package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
)

func TestAuthenticate(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "builder", Scopes: []string{ScopeBuild}},
		{Token: "cache-admin", Scopes: []string{" cache:rw ", ""}},
	}

	if _, ok := Authenticate("nope", "admin", tokens); ok {
		t.Fatal("unknown token authenticated")
	}
	if _, ok := Authenticate("", "", tokens); ok {
		t.Fatal("empty token authenticated against empty api key")
	}

	admin, ok := Authenticate("admin", "admin", tokens)
	if !ok || !HasAnyScope(admin, ScopeCacheWrite) {
		t.Fatalf("api key principal = %+v, %v", admin, ok)
	}

	builder, ok := Authenticate("builder", "admin", tokens)
	if !ok {
		t.Fatal("builder token rejected")
	}
	if !HasAnyScope(builder, ScopePipelineHash) {
		t.Error("build scope should imply hash scope")
	}
	if HasAnyScope(builder, ScopeCacheRead, ScopeCacheWrite) {
		t.Error("builder should not read the cache")
	}

	cacheAdmin, ok := Authenticate("cache-admin", "", tokens)
	if !ok {
		t.Fatal("cache-admin token rejected")
	}
	if !HasAnyScope(cacheAdmin, ScopeCacheRead) {
		t.Error("cache:rw should imply cache:ro")
	}
	if len(cacheAdmin.Scopes) != 2 {
		t.Errorf("scopes = %v, want cache:rw and cache:ro", cacheAdmin.Scopes)
	}
	if !HasAnyScope(cacheAdmin) {
		t.Error("no requirement should pass")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr error
	}{
		{header: "Bearer abc", want: "abc"},
		{header: "Bearer   abc  ", want: "abc"},
		{header: "", wantErr: ErrNoCredentials},
		{header: "Basic abc", wantErr: ErrMalformedHeader},
		{header: "Bearer ", wantErr: ErrEmptyToken},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, err := ExtractBearerToken(r)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("ExtractBearerToken(%q) error = %v, want %v", tt.header, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ExtractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestPrincipalContext(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if _, ok := PrincipalFromContext(r.Context()); ok {
		t.Fatal("principal found in empty context")
	}
	ctx := WithPrincipal(r.Context(), Principal{Token: "t"})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Token != "t" {
		t.Errorf("PrincipalFromContext() = %+v, %v", p, ok)
	}
}
