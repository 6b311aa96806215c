package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"placementportal/internal/app"
	"placementportal/internal/auth"
	"placementportal/internal/domain"
	"placementportal/internal/ratelimit"
	"placementportal/internal/util"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                      *app.App
	RedisAddr                string
	RedisPassword            string
	SignupRateLimitPerMinute int
	LoginRateLimitPerMinute  int
	MaxUploadBytes           int64
	CORSOrigin               string
}

// Server exposes the portal HTTP endpoints.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	maxUploadBytes int64
	corsOrigin     string
	signupLimiter  *ratelimit.FixedWindowLimiter
	loginLimiter   *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured and verifies the rate
// limiter backend is reachable.
func New(cfg Config) (*Server, error) {
	signupLimit := cfg.SignupRateLimitPerMinute
	if signupLimit <= 0 {
		signupLimit = 10
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 20
	}
	rateWindow := time.Minute
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "portal:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	signupLimiter, err := newLimiter("signup", signupLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := signupLimiter.Ping(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter redis: %w", err)
	}

	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		maxUploadBytes: normalizeMaxBytes(cfg.MaxUploadBytes),
		corsOrigin:     cfg.CORSOrigin,
		signupLimiter:  signupLimiter,
		loginLimiter:   loginLimiter,
	}
	s.routes()
	return s, nil
}

func normalizeMaxBytes(n int64) int64 {
	if n <= 0 {
		return 32 * 1024 * 1024
	}
	return n
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.corsOrigin, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/signup", s.handleSignup)
	s.mux.HandleFunc("/api/login", s.handleLogin)
	s.mux.Handle("/api/admin-dashboard", s.authenticated(s.handleDashboard))

	// files
	s.mux.Handle("/api/upload", s.authenticated(s.handleUpload))
	s.mux.Handle("/api/files", s.authenticated(s.handleListFiles))
	s.mux.Handle("/api/file/", http.HandlerFunc(s.handleFileByName))
	s.mux.Handle("/view/", http.HandlerFunc(s.handleViewFile))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type adminHandler func(http.ResponseWriter, *http.Request, domain.Admin)

func (s *Server) authenticated(next adminHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admin, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, admin)
	})
}

func (s *Server) authorize(r *http.Request) (domain.Admin, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "portal.token.verify", "fail", "reason", "missing_token")
		return domain.Admin{}, false
	}
	admin, ok := s.app.AdminFromToken(token)
	if !ok {
		s.audit(r, "portal.token.verify", "fail", "reason", "invalid_token_or_unknown_admin")
		return domain.Admin{}, false
	}
	s.audit(r, "portal.token.verify", "success", "admin_id", admin.ID)
	return admin, true
}

// auth handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "portal.signup", "rate_limited")
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "portal.signup", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	admin, token, err := s.app.SignUp(req.Username, req.Password)
	if err != nil {
		s.audit(r, "portal.signup", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "portal.signup", "success", "admin_id", admin.ID)
	writeJSON(w, http.StatusCreated, authResponse{Token: token, Admin: admin})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "portal.login", "rate_limited")
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "portal.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	admin, token, err := s.app.Login(req.Username, req.Password)
	if err != nil {
		s.audit(r, "portal.login", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "portal.login", "success", "admin_id", admin.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: token, Admin: admin})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, admin domain.Admin) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Welcome to the admin dashboard",
		"admin":   admin,
	})
}

// file handlers
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, admin domain.Admin) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeAppError(w, app.ErrFileRequired)
		return
	}
	defer file.Close()
	record, err := s.app.Upload(r.Context(), admin, app.UploadRequest{
		Filename:    header.Filename,
		Year:        r.FormValue("year"),
		Section:     r.FormValue("section"),
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		s.audit(r, "portal.upload", "fail", "admin_id", admin.ID, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "portal.upload", "success", "admin_id", admin.ID, "file_id", record.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "File uploaded successfully",
		"file":    record,
	})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request, admin domain.Admin) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	files, err := s.app.ListFiles(admin)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": files,
		"count": len(files),
	})
}

// /api/file/{filename}: GET streams a download, DELETE removes it.
func (s *Server) handleFileByName(w http.ResponseWriter, r *http.Request) {
	filename := strings.TrimPrefix(r.URL.Path, "/api/file/")
	if filename == "" || strings.Contains(filename, "/") {
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.streamFile(w, r, filename, "attachment")
	case http.MethodDelete:
		s.handleDeleteFile(w, r, filename)
	default:
		methodNotAllowed(w)
	}
}

// /view/{filename}: GET renders the stored bytes inline.
func (s *Server) handleViewFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	filename := strings.TrimPrefix(r.URL.Path, "/view/")
	if filename == "" || strings.Contains(filename, "/") {
		notFound(w, "not found")
		return
	}
	s.streamFile(w, r, filename, "inline")
}

func (s *Server) streamFile(w http.ResponseWriter, r *http.Request, filename, disposition string) {
	body, record, info, err := s.app.OpenFile(r.Context(), filename)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, record.Filename))
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("stream file interrupted", "filename", filename, "error", err)
	}
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request, filename string) {
	admin, ok := s.authorize(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.DeleteFile(r.Context(), admin, filename); err != nil {
		s.audit(r, "portal.file.delete", "fail", "admin_id", admin.ID, "filename", filename, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "portal.file.delete", "success", "admin_id", admin.ID, "filename", filename)
	writeJSON(w, http.StatusOK, map[string]string{"message": "File deleted successfully"})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

// writeAppError maps application sentinels onto HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrUsernameAndPasswordRequired),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, app.ErrUsernameTaken),
		errors.Is(err, app.ErrYearAndSectionRequired),
		errors.Is(err, app.ErrFileRequired),
		errors.Is(err, app.ErrUserNotFound),
		errors.Is(err, app.ErrIncorrectPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrFileNotFound), errors.Is(err, app.ErrBlobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForPortal(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForPortal(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "username and password are required":
		return "AUTH_MISSING_CREDENTIALS"
	case strings.Contains(message, "password must be at least"):
		return "AUTH_WEAK_PASSWORD"
	case message == "username already exists":
		return "AUTH_USERNAME_TAKEN"
	case message == "user not found", message == "incorrect password":
		return "AUTH_INVALID_CREDENTIALS"
	case strings.Contains(message, "too many signup"), strings.Contains(message, "too many login"):
		return "AUTH_RATE_LIMITED"
	case message == "forbidden":
		return "PORTAL_FORBIDDEN"
	case message == "file not found", message == "file not found in storage":
		return "PORTAL_FILE_NOT_FOUND"
	case message == "no file uploaded":
		return "PORTAL_FILE_REQUIRED"
	case message == "year and section are required":
		return "PORTAL_MISSING_FIELDS"
	case message == "invalid form data":
		return "PORTAL_INVALID_UPLOAD_FORM"
	case message == "invalid json body":
		return "PORTAL_INVALID_REQUEST"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "PORTAL_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "PORTAL_FORBIDDEN"
	case http.StatusNotFound:
		return "PORTAL_FILE_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "AUTH_RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string       `json:"token"`
	Admin domain.Admin `json:"admin"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
