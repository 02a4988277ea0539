package guard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/autorent-leon/consoleauth/permission"
)

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	f := newFixture(t, permission.Of("branch.view_branch"))

	var reached Route
	h := Middleware(f.guard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached, _ = RouteFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := serve(t, h, "/branches")
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login?redirect=%2Fbranches" {
		t.Fatalf("anonymous: got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	if err := f.engine.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatal(err)
	}

	rec = serve(t, h, "/branches")
	if rec.Code != http.StatusOK || reached.Name != RouteBranches {
		t.Fatalf("granted: got %d route %q", rec.Code, reached.Name)
	}

	rec = serve(t, h, "/vehicles")
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/unauthorized?attempted=%2Fvehicles&required=vehicle.view_vehicle" {
		t.Fatalf("forbidden: got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = serve(t, h, "/login")
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Fatalf("login while authenticated: got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = serve(t, h, "/garage")
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/error" {
		t.Fatalf("unknown path: got %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestMiddlewareNilGuard(t *testing.T) {
	h := Middleware(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	if rec := serve(t, h, "/"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
