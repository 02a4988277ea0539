// Package authapitest runs an in-process fake of the rental backend's
// user-control endpoints for tests and demos.
//
// Users are registered with a password and a permission Set. Login issues
// real HS512 tokens, the permission endpoint checks them, and every endpoint
// can be switched into failure modes (fixed status, malformed body, dropped
// connection, artificial latency).
package authapitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autorent-leon/consoleauth/jwt"
	"github.com/autorent-leon/consoleauth/permission"
)

// Secret signs every token the fake server issues.
const Secret = "authapitest-secret-authapitest-secret"

// User is an account known to the fake server.
type User struct {
	ID          int64
	Name        string
	LastName    string
	Email       string
	Password    string
	Permissions permission.Set
	Inactive    bool
}

// Failure describes how an endpoint misbehaves.
type Failure struct {
	Status    int
	Message   string
	RawBody   string
	DropConn  bool
	Delay     time.Duration
	Remaining int
}

// Server is a fake backend. The zero value is not usable; call [NewServer].
type Server struct {
	*httptest.Server

	Tokens *jwt.Manager

	mu       sync.Mutex
	users    map[string]*User
	failures map[string]*Failure
	nextID   int64

	LoginCalls      atomic.Int32
	RegisterCalls   atomic.Int32
	PermissionCalls atomic.Int32
	LastRequestID   atomic.Value
}

// NewServer starts a fake backend. Close it when done.
func NewServer() *Server {
	tokens, err := jwt.NewManager(jwt.Config{
		TTL:        24 * time.Hour,
		PrivateKey: []byte(Secret),
		Issuer:     "authapitest",
	})
	if err != nil {
		panic(err)
	}

	s := &Server{
		Tokens:   tokens,
		users:    make(map[string]*User),
		failures: make(map[string]*Failure),
		nextID:   1,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/user-control/login", s.wrap("login", &s.LoginCalls, s.handleLogin))
	mux.HandleFunc("POST /api/v1/user-control/register", s.wrap("register", &s.RegisterCalls, s.handleRegister))
	mux.HandleFunc("GET /api/v1/user-control/permission", s.wrap("permission", &s.PermissionCalls, s.handlePermission))
	s.Server = httptest.NewServer(mux)
	return s
}

// BaseURL is the API root to configure clients with.
func (s *Server) BaseURL() string {
	return s.URL + "/api/v1/"
}

// AddUser registers u and returns it with its assigned ID.
func (s *Server) AddUser(u User) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.nextID
		s.nextID++
	}
	stored := u
	s.users[strings.ToLower(u.Email)] = &stored
	return stored
}

// SetPermissions replaces the permission Set of an existing user.
func (s *Server) SetPermissions(email string, set permission.Set) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[strings.ToLower(email)]; ok {
		u.Permissions = set
	}
}

// Fail makes endpoint ("login", "register" or "permission") misbehave. A
// Failure with Remaining > 0 applies to that many requests only.
func (s *Server) Fail(endpoint string, f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = &f
}

// Recover clears any failure configured for endpoint.
func (s *Server) Recover(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, endpoint)
}

// TokenFor issues a token for a registered user without going through login.
func (s *Server) TokenFor(email string) string {
	s.mu.Lock()
	u, ok := s.users[strings.ToLower(email)]
	s.mu.Unlock()
	if !ok {
		return ""
	}
	tok, err := s.Tokens.Issue(claimsFor(u))
	if err != nil {
		return ""
	}
	return tok
}

// ExpiredTokenFor issues a token for email that expired an hour ago.
func (s *Server) ExpiredTokenFor(email string) string {
	s.mu.Lock()
	u, ok := s.users[strings.ToLower(email)]
	s.mu.Unlock()
	if !ok {
		return ""
	}
	tok, err := s.Tokens.IssueAt(claimsFor(u), time.Now().Add(-25*time.Hour))
	if err != nil {
		return ""
	}
	return tok
}

func claimsFor(u *User) jwt.SessionClaims {
	return jwt.SessionClaims{
		UserID:      u.ID,
		Name:        u.Name,
		LastName:    u.LastName,
		Email:       u.Email,
		IsSuperuser: u.Permissions.Superuser(),
	}
}

func (s *Server) wrap(endpoint string, counter *atomic.Int32, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counter.Add(1)
		s.LastRequestID.Store(r.Header.Get("X-Request-ID"))

		f, ok := s.takeFailure(endpoint)
		if !ok {
			next(w, r)
			return
		}
		if f.Delay > 0 {
			select {
			case <-time.After(f.Delay):
			case <-r.Context().Done():
				return
			}
		}
		switch {
		case f.DropConn:
			hj, ok := w.(http.Hijacker)
			if !ok {
				http.Error(w, "hijack unsupported", http.StatusInternalServerError)
				return
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				_ = conn.Close()
			}
		case f.RawBody != "":
			status := f.Status
			if status == 0 {
				status = http.StatusOK
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(f.RawBody))
		case f.Status != 0:
			writeJSON(w, f.Status, map[string]string{"status": "error", "message": f.Message})
		default:
			next(w, r)
		}
	}
}

func (s *Server) takeFailure(endpoint string) (Failure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.failures[endpoint]
	if !ok {
		return Failure{}, false
	}
	out := *f
	if f.Remaining > 0 {
		f.Remaining--
		if f.Remaining == 0 {
			delete(s.failures, endpoint)
		}
	}
	return out, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" || body.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "The field 'email' is required"})
		return
	}

	s.mu.Lock()
	u, ok := s.users[strings.ToLower(body.Email)]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "error", "message": "Resource not found"})
		return
	}
	if u.Inactive || u.Password != body.Password {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "Invalid credentials"})
		return
	}

	tok, err := s.Tokens.Issue(claimsFor(u))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "Invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "token": tok})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid body"})
		return
	}
	for field, v := range map[string]string{"name": body.Name, "email": body.Email, "password": body.Password} {
		if strings.TrimSpace(v) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "The field '" + field + "' is required"})
			return
		}
	}

	s.mu.Lock()
	_, exists := s.users[strings.ToLower(body.Email)]
	s.mu.Unlock()
	if exists {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "error", "message": "The email " + body.Email + " is not available"})
		return
	}

	s.AddUser(User{Name: body.Name, Email: body.Email, Password: body.Password, Permissions: permission.Of(), Inactive: true})
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok", "message": "User successfully created"})
}

func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "error", "message": "Unauthorized access - Missing Authorization header"})
		return
	}
	claims, err := s.Tokens.Parse(token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "error", "message": "Unauthorized access - Invalid token"})
		return
	}

	s.mu.Lock()
	u, ok := s.users[strings.ToLower(claims.Email)]
	var set permission.Set
	if ok {
		set = u.Permissions
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "error", "message": "Unauthorized access - Invalid token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]permission.Set{"permissions": set})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
