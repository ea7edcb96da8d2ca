package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"clientportal/internal/app"
	"clientportal/internal/domain"
	"clientportal/internal/ratelimit"
	"clientportal/internal/util"
)

const sessionCookieName = "session_token"

// Server exposes the portal core over HTTP.
type Server struct {
	app    *app.App
	logger *slog.Logger

	requestCodeLimiter *ratelimit.FixedWindowLimiter
	verifyCodeLimiter  *ratelimit.FixedWindowLimiter

	maxUploadBytes int64
}

// Config carries the HTTP layer's dependencies.
type Config struct {
	App    *app.App
	Logger *slog.Logger

	RequestCodeLimiter *ratelimit.FixedWindowLimiter
	VerifyCodeLimiter  *ratelimit.FixedWindowLimiter

	// MaxUploadBytes bounds upload request bodies. Zero means 100 MiB.
	MaxUploadBytes int64
}

// New builds the HTTP server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 100 << 20
	}
	return &Server{
		app:                cfg.App,
		logger:             cfg.Logger,
		requestCodeLimiter: cfg.RequestCodeLimiter,
		verifyCodeLimiter:  cfg.VerifyCodeLimiter,
		maxUploadBytes:     cfg.MaxUploadBytes,
	}
}

// Router assembles routes and middleware.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /api/auth/request-code", s.handleRequestCode)
	mux.HandleFunc("POST /api/auth/verify-code", s.handleVerifyCode)
	mux.Handle("GET /api/user", s.authenticated(s.handleUser))
	mux.Handle("GET /api/user/stats", s.authenticated(s.handleUserStats))
	mux.Handle("GET /api/files", s.authenticated(s.handleListFiles))
	mux.Handle("POST /api/upload", s.authenticated(s.handleUpload))
	mux.Handle("GET /api/download/{id}", s.authenticated(s.handleDownload))
	mux.Handle("DELETE /api/files/{id}", s.authenticated(s.handleDeleteFile))
	mux.HandleFunc("POST /api/logout", s.handleLogout)

	var h http.Handler = mux
	h = util.WithRequestID(h)
	h = util.WithRequestLog(h)
	h = util.WithCORS(h)
	h = util.WithSecurityHeaders(h)
	return h
}

type authHandler func(w http.ResponseWriter, r *http.Request, user domain.User)

// authenticated resolves the session credential before calling next. A
// bearer token takes precedence over the session cookie.
func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		user, ok, err := s.app.Authenticate(token)
		if err != nil {
			s.logger.Error("session lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			s.audit(r, "auth_rejected", "path", r.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r, user)
	})
}

// sessionToken extracts the credential from the Authorization header or,
// failing that, the session cookie.
func sessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(sessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type requestCodeRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, s.requestCodeLimiter) {
		return
	}
	var req requestCodeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	devCode, err := s.app.RequestCode(r.Context(), req.Email)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidEmail):
			writeError(w, http.StatusBadRequest, "invalid email address")
		case errors.Is(err, app.ErrEmailNotRecognized):
			s.audit(r, "code_requested_unknown_email")
			writeError(w, http.StatusForbidden, "email not recognized")
		case errors.Is(err, app.ErrNotifierUnavailable):
			writeError(w, http.StatusInternalServerError, "could not send login code")
		default:
			s.logger.Error("request code failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	s.audit(r, "code_requested", "email", util.MaskEmail(req.Email))
	resp := map[string]any{"success": true, "message": "login code sent"}
	if devCode != "" {
		resp["devCode"] = devCode
	}
	writeJSON(w, http.StatusOK, resp)
}

type verifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, s.verifyCodeLimiter) {
		return
	}
	var req verifyCodeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, user, err := s.app.VerifyCode(r.Context(), req.Email, req.Code)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCode) {
			s.audit(r, "code_rejected", "email", util.MaskEmail(req.Email))
			writeError(w, http.StatusUnauthorized, "invalid or expired code")
			return
		}
		s.logger.Error("verify code failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.audit(r, "login", "user_id", user.ID)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   int(s.app.SessionTTL().Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"token":     sess.Token,
		"expiresAt": sess.ExpiresAt,
		"user":      user,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		if err := s.app.Logout(token); err != nil {
			s.logger.Warn("logout failed", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request, user domain.User) {
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request, user domain.User) {
	stats, err := s.app.Stats(user.ID)
	if err != nil {
		s.logger.Error("load stats failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request, user domain.User) {
	files, err := s.app.ListFiles(user.ID)
	if err != nil {
		s.logger.Error("list files failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(header.Filename))
	}
	rec, err := s.app.Upload(r.Context(), user.ID,
		header.Filename,
		r.FormValue("category"),
		r.FormValue("description"),
		contentType,
		file, header.Size,
	)
	if err != nil {
		s.logger.Error("upload failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	s.audit(r, "file_uploaded", "user_id", user.ID, "file_id", rec.ID, "size", rec.SizeBytes)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"filename": rec.Filename,
		"file":     rec,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, user domain.User) {
	rec, body, err := s.app.Download(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, app.ErrFileNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		s.logger.Error("download failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer body.Close()

	contentType := rec.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s", strconv.Quote(rec.Filename)))
	if rec.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(rec.SizeBytes, 10))
	}
	if _, err := io.Copy(w, body); err != nil {
		// Headers are already out; all we can do is log.
		s.logger.Warn("download stream interrupted",
			"user_id", user.ID, "file_id", rec.ID, "error", err)
	}
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request, user domain.User) {
	fileID := r.PathValue("id")
	if err := s.app.Delete(r.Context(), user.ID, fileID); err != nil {
		if errors.Is(err, app.ErrFileNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		s.logger.Error("delete file failed", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.audit(r, "file_deleted", "user_id", user.ID, "file_id", fileID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// allow applies a rate limiter keyed by endpoint and caller IP. A nil
// limiter admits everything, which keeps tests simple.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + ":" + util.ClientIP(r)
	if limiter.Allow(key) {
		return true
	}
	s.audit(r, "rate_limited", "path", r.URL.Path)
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, "too many requests")
	return false
}

// audit logs a security-relevant event with caller context.
func (s *Server) audit(r *http.Request, event string, args ...any) {
	fields := append([]any{
		"event", event,
		"ip", util.ClientIP(r),
		"request_id", util.RequestIDFromRequest(r),
	}, args...)
	s.logger.Info("security_event", fields...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
