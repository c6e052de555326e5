// Package platformtest hosts an in-process fake of the education platform:
// login/refresh endpoints, role-gated API routes, and the two push hubs.
// The end-to-end tests run the full client against it; cmd/edugate can point
// at a deployed instance of the real thing instead.
package platformtest

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"edugate/internal/domain"
)

type account struct {
	password string
	role     domain.Role
}

type refreshRecord struct {
	username string
	role     domain.Role
}

type Server struct {
	secret   []byte
	upgrader websocket.Upgrader

	mu            sync.Mutex
	generation    int64
	accounts      map[string]account
	refreshTokens map[string]refreshRecord
	chatPeers     map[*peer]struct{}
	notifyPeers   map[*peer]struct{}

	loginCalls   int32
	refreshCalls int32
	courseCalls  int32
	rosterCalls  int32
	followUpHits int32
}

func NewServer() *Server {
	return &Server{
		secret: []byte("platformtest-secret"),
		accounts: map[string]account{
			"student": {password: "student-pass", role: domain.RoleStudent},
			"staff":   {password: "staff-pass", role: domain.RoleStaff},
		},
		refreshTokens: make(map[string]refreshRecord),
		chatPeers:     make(map[*peer]struct{}),
		notifyPeers:   make(map[*peer]struct{}),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)

	r.Group(func(protected chi.Router) {
		protected.Use(s.requireToken)
		protected.Get("/api/courses", s.handleListCourses)
		protected.Post("/api/courses", s.handleCreateCourse)
		protected.Get("/api/staff/roster", s.handleRoster)
		protected.Get("/api/reports/{jobID}/results", s.handleFollowUp)
		protected.Get("/api/jobs/{jobID}", s.handleFollowUp)
		protected.Get("/api/conversations", s.handleFollowUp)
	})

	r.Get("/hubs/chat", s.handleChatHub)
	r.Get("/hubs/notify", s.handleNotifyHub)

	return r
}

// ExpireAccessTokens invalidates every outstanding access token while
// leaving refresh tokens usable, simulating server-side expiry.
func (s *Server) ExpireAccessTokens() {
	atomic.AddInt64(&s.generation, 1)
}

// RevokeRefreshTokens ends every session outright.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	s.refreshTokens = make(map[string]refreshRecord)
	s.mu.Unlock()
}

func (s *Server) LoginCalls() int32   { return atomic.LoadInt32(&s.loginCalls) }
func (s *Server) RefreshCalls() int32 { return atomic.LoadInt32(&s.refreshCalls) }
func (s *Server) CourseCalls() int32  { return atomic.LoadInt32(&s.courseCalls) }
func (s *Server) RosterCalls() int32  { return atomic.LoadInt32(&s.rosterCalls) }
func (s *Server) FollowUpHits() int32 { return atomic.LoadInt32(&s.followUpHits) }

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&s.loginCalls, 1)
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Remember bool   `json:"remember"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	acct, ok := s.lookupAccount(req.Username)
	if !ok || acct.password != req.Password {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	access, err := s.signAccessToken(req.Username, acct.role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sign token")
		return
	}
	refresh := s.issueRefreshToken(req.Username, acct.role)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accessToken":  access,
		"refreshToken": refresh,
		"profile": map[string]string{
			"id":       uuid.NewString(),
			"username": req.Username,
			"role":     string(acct.role),
		},
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&s.refreshCalls, 1)
	var req struct {
		RefreshToken  string `json:"refreshToken"`
		DeviceContext string `json:"deviceContext"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	rec, ok := s.refreshTokens[req.RefreshToken]
	if ok {
		delete(s.refreshTokens, req.RefreshToken)
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "refresh token not recognized")
		return
	}

	access, err := s.signAccessToken(rec.username, rec.role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sign token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accessToken":  access,
		"refreshToken": s.issueRefreshToken(rec.username, rec.role),
	})
}

func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&s.courseCalls, 1)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"courses": []map[string]interface{}{
			{"id": "crs-101", "title": "Distributed Systems"},
			{"id": "crs-102", "title": "Compilers"},
		},
	})
}

func (s *Server) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title    string `json:"title"`
		Capacity int    `json:"capacity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	errs := map[string][]string{}
	if req.Title == "" {
		errs["title"] = append(errs["title"], "is required")
	}
	if req.Capacity <= 0 {
		errs["capacity"] = append(errs["capacity"], "must be positive")
	}
	if len(errs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{"errors": errs})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": uuid.NewString(), "title": req.Title})
}

func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&s.rosterCalls, 1)
	role, _ := r.Context().Value(contextKeyRole).(domain.Role)
	if role != domain.RoleStaff && role != domain.RoleAdmin {
		writeError(w, http.StatusForbidden, "staff access required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"students": []map[string]string{{"id": "stu-1", "name": "Avery"}},
	})
}

func (s *Server) handleFollowUp(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&s.followUpHits, 1)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type contextKey string

const contextKeyRole contextKey = "role"

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, ok := s.verifyBearer(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "token expired or invalid")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) verifyBearer(header string) (domain.Role, bool) {
	token := bearerToken(header)
	if token == "" {
		return "", false
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", false
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}
	gen, _ := claims["gen"].(float64)
	if int64(gen) != atomic.LoadInt64(&s.generation) {
		return "", false
	}
	role, _ := claims["role"].(string)
	return domain.Role(role), true
}

func (s *Server) signAccessToken(username string, role domain.Role) (string, error) {
	claims := jwt.MapClaims{
		"sub":  username,
		"role": string(role),
		"gen":  atomic.LoadInt64(&s.generation),
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) issueRefreshToken(username string, role domain.Role) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.refreshTokens[token] = refreshRecord{username: username, role: role}
	s.mu.Unlock()
	return token
}

func (s *Server) lookupAccount(username string) (account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[username]
	return acct, ok
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
