package authapi_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/autorent-leon/consoleauth/authapi"
	"github.com/autorent-leon/consoleauth/authapi/authapitest"
	"github.com/autorent-leon/consoleauth/jwt"
	"github.com/autorent-leon/consoleauth/permission"
)

func newClient(t *testing.T) (*authapi.Client, *authapitest.Server) {
	t.Helper()
	srv := authapitest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddUser(authapitest.User{
		Name:        "Ana",
		LastName:    "Ruiz",
		Email:       "ana@example.com",
		Password:    "correct-horse",
		Permissions: permission.Of("branch.view_branch"),
	})
	c, err := authapi.New(authapi.Config{BaseURL: srv.BaseURL(), Timeout: 2 * time.Second, UserAgent: "consoleauth-test"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, srv
}

func asAPIError(t *testing.T, err error) *authapi.Error {
	t.Helper()
	var apiErr *authapi.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *authapi.Error, got %T (%v)", err, err)
	}
	return apiErr
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	for _, base := range []string{"", "localhost:8000", "ftp://example.com/", "http://"} {
		if _, err := authapi.New(authapi.Config{BaseURL: base}); err == nil {
			t.Fatalf("expected %q to be rejected", base)
		}
	}
}

func TestLoginReturnsDecodableToken(t *testing.T) {
	c, srv := newClient(t)
	resp, err := c.Login(context.Background(), authapi.LoginRequest{Email: "ana@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := jwt.Decode(resp.Token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if claims.Email != "ana@example.com" || claims.FullName() != "Ana Ruiz" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if jwt.IsExpired(resp.Token, time.Now()) {
		t.Fatal("fresh login token must not be expired")
	}

	id, _ := srv.LastRequestID.Load().(string)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected a UUID request id, got %q", id)
	}
}

func TestLoginFailureCarriesServerMessage(t *testing.T) {
	c, _ := newClient(t)
	_, err := c.Login(context.Background(), authapi.LoginRequest{Email: "ana@example.com", Password: "wrong"})
	apiErr := asAPIError(t, err)
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", apiErr.StatusCode)
	}
	if apiErr.UserMessage() != "Invalid credentials" {
		t.Fatalf("unexpected message %q", apiErr.UserMessage())
	}
	if apiErr.AuthFailure() {
		t.Fatal("a bad password is not an auth failure of the session")
	}
}

func TestLoginFailureWithoutMessageUsesGenericText(t *testing.T) {
	c, srv := newClient(t)
	srv.Fail("login", authapitest.Failure{Status: http.StatusBadGateway, RawBody: "<html>bad gateway</html>"})

	_, err := c.Login(context.Background(), authapi.LoginRequest{Email: "ana@example.com", Password: "correct-horse"})
	apiErr := asAPIError(t, err)
	if apiErr.UserMessage() != authapi.GenericMessage {
		t.Fatalf("expected generic message, got %q", apiErr.UserMessage())
	}
}

func TestLoginWithoutTokenIsUnexpected(t *testing.T) {
	c, srv := newClient(t)
	srv.Fail("login", authapitest.Failure{RawBody: `{"status":"ok"}`})

	_, err := c.Login(context.Background(), authapi.LoginRequest{Email: "ana@example.com", Password: "correct-horse"})
	if !errors.Is(err, authapi.ErrUnexpectedResponse) {
		t.Fatalf("expected ErrUnexpectedResponse, got %v", err)
	}
}

func TestRegister(t *testing.T) {
	c, srv := newClient(t)
	resp, err := c.Register(context.Background(), authapi.RegisterRequest{Name: "Luis", Email: "luis@example.com", Password: "pw-12345"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if resp.Status != "ok" || resp.Message == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if srv.RegisterCalls.Load() != 1 {
		t.Fatalf("expected one register call, got %d", srv.RegisterCalls.Load())
	}

	_, err = c.Register(context.Background(), authapi.RegisterRequest{Name: "Ana", Email: "ana@example.com", Password: "x"})
	apiErr := asAPIError(t, err)
	if apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", apiErr.StatusCode)
	}
}

func TestFetchPermissions(t *testing.T) {
	c, srv := newClient(t)
	set, err := c.FetchPermissions(context.Background(), srv.TokenFor("ana@example.com"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !set.Has("branch.view_branch") || set.Has("vehicle.view_vehicle") {
		t.Fatalf("unexpected set %v", set)
	}

	srv.SetPermissions("ana@example.com", permission.All())
	set, err = c.FetchPermissions(context.Background(), srv.TokenFor("ana@example.com"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !set.Superuser() {
		t.Fatal("expected superuser set")
	}
}

func TestFetchPermissionsErrorClassification(t *testing.T) {
	cases := []struct {
		name        string
		failure     authapitest.Failure
		authFailure bool
		sentinel    error
	}{
		{"forbidden", authapitest.Failure{Status: http.StatusForbidden, Message: "Forbidden"}, true, authapi.ErrStatus},
		{"unauthorized", authapitest.Failure{Status: http.StatusUnauthorized}, true, authapi.ErrStatus},
		{"server error", authapitest.Failure{Status: http.StatusInternalServerError}, false, authapi.ErrStatus},
		{"wrong shape", authapitest.Failure{RawBody: `{"permissions":"everything"}`}, false, authapi.ErrUnexpectedResponse},
		{"null code", authapitest.Failure{RawBody: `{"permissions":["branch.view_branch",null]}`}, false, authapi.ErrUnexpectedResponse},
		{"missing field", authapitest.Failure{RawBody: `{"perms":[]}`}, false, authapi.ErrUnexpectedResponse},
		{"not json", authapitest.Failure{RawBody: `permissions`}, false, authapi.ErrUnexpectedResponse},
		{"dropped connection", authapitest.Failure{DropConn: true}, false, authapi.ErrNetwork},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, srv := newClient(t)
			srv.Fail("permission", tc.failure)

			_, err := c.FetchPermissions(context.Background(), srv.TokenFor("ana@example.com"))
			if !errors.Is(err, tc.sentinel) {
				t.Fatalf("expected %v, got %v", tc.sentinel, err)
			}
			if got := permission.IsAuthFailure(err); got != tc.authFailure {
				t.Fatalf("AuthFailure=%v, want %v", got, tc.authFailure)
			}
		})
	}
}

func TestFetchPermissionsRejectsExpiredToken(t *testing.T) {
	c, srv := newClient(t)
	_, err := c.FetchPermissions(context.Background(), srv.ExpiredTokenFor("ana@example.com"))
	if !permission.IsAuthFailure(err) {
		t.Fatalf("expected 401 for an expired token, got %v", err)
	}
}

func TestUnexpectedResponseMessage(t *testing.T) {
	c, srv := newClient(t)
	srv.Fail("permission", authapitest.Failure{RawBody: `{"permissions":42}`})
	_, err := c.FetchPermissions(context.Background(), srv.TokenFor("ana@example.com"))
	if err == nil || !errors.Is(err, authapi.ErrUnexpectedResponse) {
		t.Fatalf("expected unexpected response, got %v", err)
	}
	if want := "unexpected server response"; !strings.Contains(err.Error(), want) {
		t.Fatalf("expected %q in %q", want, err.Error())
	}
}

func TestClientSatisfiesFetcher(t *testing.T) {
	c, srv := newClient(t)
	cache := permission.NewCache(c, permission.CacheConfig{})
	if _, err := cache.Fetch(context.Background(), srv.TokenFor("ana@example.com")); err != nil {
		t.Fatalf("fetch through cache: %v", err)
	}
	if !cache.Has("branch.view_branch") {
		t.Fatal("expected cached permission")
	}
}
