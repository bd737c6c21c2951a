// Package httpapi exposes the coordinator's REST surface: account signup and
// login, profile access, and the polled match-connect endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/lib/pq"

	"github.com/peerbridge/peer-app/internal/auth"
	"github.com/peerbridge/peer-app/internal/matching"
	"github.com/peerbridge/peer-app/internal/profile"
)

// uniqueViolation is the PostgreSQL error code for duplicate key inserts.
const uniqueViolation = "23505"

// ProfileStore is the slice of the profile layer the API needs. Satisfied by
// *profile.Store in production.
type ProfileStore interface {
	Create(ctx context.Context, username, email, passwordHash string, attrs profile.Attributes) (*profile.Student, error)
	GetByEmail(ctx context.Context, email string) (*profile.Student, error)
	GetByID(ctx context.Context, studentID string) (*profile.Student, error)
	UpdateScores(ctx context.Context, studentID string, attrs profile.Attributes) error
}

// Matcher is the matching operations the API exposes. Satisfied by
// *matching.Service in production.
type Matcher interface {
	Connect(ctx context.Context, studentID string) (matching.Result, error)
	Cancel(ctx context.Context, studentID string) error
}

// Server holds the handlers for the REST API.
type Server struct {
	profiles  ProfileStore
	matcher   Matcher
	tokens    *auth.Tokens
	startedAt time.Time
}

// NewServer creates the API server.
func NewServer(profiles ProfileStore, matcher Matcher, tokens *auth.Tokens) *Server {
	return &Server{
		profiles:  profiles,
		matcher:   matcher,
		tokens:    tokens,
		startedAt: time.Now(),
	}
}

// Routes registers all API endpoints on the given mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/signup", s.handleSignup)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/user/profile", s.withAuth(s.handleProfile))
	mux.HandleFunc("PUT /api/user/scores", s.withAuth(s.handleUpdateScores))
	mux.HandleFunc("POST /api/match/connect", s.withAuth(s.handleConnect))
	mux.HandleFunc("DELETE /api/match/queue", s.withAuth(s.handleCancel))
	mux.HandleFunc("GET /health", s.handleHealth)
}

// withAuth wraps a handler with bearer token verification and passes the
// verified student identifier through.
func (s *Server) withAuth(next func(w http.ResponseWriter, r *http.Request, studentID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		studentID, err := s.tokens.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r, studentID)
	}
}

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	profile.Attributes
}

type authResponse struct {
	Token   string         `json:"token"`
	Student studentPayload `json:"student"`
}

type studentPayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	profile.Attributes
}

func studentToPayload(st *profile.Student) studentPayload {
	return studentPayload{
		ID:         st.StudentID(),
		Username:   st.Username,
		Email:      st.Email,
		Attributes: st.Attributes,
	}
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Email == "" || req.Feeling == "" {
		writeError(w, http.StatusBadRequest, "username, email and feeling are required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("[api] signup: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	st, err := s.profiles.Create(r.Context(), req.Username, req.Email, hash, req.Attributes)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		log.Printf("[api] signup: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	token, err := s.tokens.Issue(st.StudentID())
	if err != nil {
		log.Printf("[api] signup: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{Token: token, Student: studentToPayload(st)})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	st, err := s.profiles.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		log.Printf("[api] login: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !auth.CheckPassword(st.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.tokens.Issue(st.StudentID())
	if err != nil {
		log.Printf("[api] login: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Token: token, Student: studentToPayload(st)})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, studentID string) {
	st, err := s.profiles.GetByID(r.Context(), studentID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			writeError(w, http.StatusNotFound, "student not found")
			return
		}
		log.Printf("[api] profile: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, studentToPayload(st))
}

func (s *Server) handleUpdateScores(w http.ResponseWriter, r *http.Request, studentID string) {
	var attrs profile.Attributes
	if err := json.NewDecoder(r.Body).Decode(&attrs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if attrs.Feeling == "" {
		writeError(w, http.StatusBadRequest, "feeling is required")
		return
	}

	if err := s.profiles.UpdateScores(r.Context(), studentID, attrs); err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			writeError(w, http.StatusNotFound, "student not found")
			return
		}
		log.Printf("[api] scores: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type connectResponse struct {
	Matched bool   `json:"matched"`
	RoomID  string `json:"room_id,omitempty"`
	PeerID  string `json:"peer_id,omitempty"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request, studentID string) {
	res, err := s.matcher.Connect(r.Context(), studentID)
	if err != nil {
		if errors.Is(err, matching.ErrRequesterNotFound) {
			writeError(w, http.StatusNotFound, "student not found")
			return
		}
		log.Printf("[api] connect: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, connectResponse{
		Matched: res.Matched,
		RoomID:  res.RoomID,
		PeerID:  res.PeerID,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, studentID string) {
	if err := s.matcher.Cancel(r.Context(), studentID); err != nil {
		log.Printf("[api] cancel: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
	}{
		Status: "ok",
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
