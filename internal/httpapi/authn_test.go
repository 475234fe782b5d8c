package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"practicedesk.io/internal/auth"
)

type resolverFunc func(ctx context.Context, handle string) (auth.Principal, error)

func (f resolverFunc) Resolve(ctx context.Context, handle string) (auth.Principal, error) {
	return f(ctx, handle)
}

func authOnly(resolver auth.Resolver, next http.Handler) http.Handler {
	a := &API{resolver: resolver}
	return a.withAuth(next)
}

func TestWithAuthStoresPrincipalAndToken(t *testing.T) {
	var (
		got   auth.Principal
		token string
	)
	handler := authOnly(resolverFunc(func(ctx context.Context, handle string) (auth.Principal, error) {
		if handle != "tok-1" {
			t.Fatalf("unexpected handle %q", handle)
		}
		return partner, nil
	}), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.PrincipalFromContext(r.Context())
		token, _ = auth.TokenFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
	req.Header.Set("Authorization", "bearer tok-1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got != partner || token != "tok-1" {
		t.Fatalf("context not populated: %+v %q", got, token)
	}
}

func TestWithAuthMapsResolverErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid token", auth.ErrInvalidToken, http.StatusUnauthorized},
		{"invalid principal", auth.ErrInvalidPrincipal, http.StatusUnauthorized},
		{"backend failure", errors.New("directory unreachable"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := authOnly(resolverFunc(func(context.Context, string) (auth.Principal, error) {
				return auth.Principal{}, tc.err
			}), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler must not run")
			}))
			req := httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
			req.Header.Set("Authorization", "Bearer x")
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestWithAuthSkipsPublicPaths(t *testing.T) {
	handler := authOnly(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("%s: expected 204, got %d", path, rr.Code)
		}
	}
}

func TestWithAuthWithoutResolver(t *testing.T) {
	handler := authOnly(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
	req.Header.Set("Authorization", "Bearer x")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	if _, err := extractBearerToken(""); err == nil {
		t.Fatal("expected error for empty header")
	}
	if _, err := extractBearerToken("Token abc"); err == nil {
		t.Fatal("expected error for wrong scheme")
	}
	if _, err := extractBearerToken("Bearer   "); err == nil {
		t.Fatal("expected error for blank token")
	}
	got, err := extractBearerToken("  Bearer abc.def ")
	if err != nil || got != "abc.def" {
		t.Fatalf("unexpected result %q %v", got, err)
	}
}
