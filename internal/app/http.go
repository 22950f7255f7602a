package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"bookforge/api/internal/export"
	"bookforge/api/internal/render"
	"bookforge/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{"ok": status == "ready", "status": status, "checks": checks})
		return
	}

	userID := requestUserID(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing user identity", nil)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
		return
	}

	switch {
	// POST /api/books/{id}/open
	case r.Method == http.MethodPost && len(parts) == 4 && parts[1] == "books" && parts[3] == "open":
		s.handleOpenBook(w, r, userID, parts[2])

	// POST /api/books/{id}/exports
	case r.Method == http.MethodPost && len(parts) == 4 && parts[1] == "books" && parts[3] == "exports":
		s.handleCreateExport(w, r, userID, parts[2])

	// GET /api/books/{id}/exports
	case r.Method == http.MethodGet && len(parts) == 4 && parts[1] == "books" && parts[3] == "exports":
		s.handleListExports(w, r, userID, parts[2])

	// GET /api/books/{id}/collaborators
	case r.Method == http.MethodGet && len(parts) == 4 && parts[1] == "books" && parts[3] == "collaborators":
		s.handleListCollaborators(w, r, userID, parts[2])

	// PUT /api/books/{id}/collaborators
	case r.Method == http.MethodPut && len(parts) == 4 && parts[1] == "books" && parts[3] == "collaborators":
		s.handleSetCollaborator(w, r, userID, parts[2])

	// GET /api/exports/{id}/download
	case r.Method == http.MethodGet && len(parts) == 4 && parts[1] == "exports" && parts[3] == "download":
		s.handleDownloadExport(w, r, userID, parts[2])

	// DELETE /api/exports/{id}
	case r.Method == http.MethodDelete && len(parts) == 3 && parts[1] == "exports":
		s.handleDeleteExport(w, r, userID, parts[2])

	// POST /api/sessions/{id}/mutations | undo | redo | navigate | save
	case r.Method == http.MethodPost && len(parts) == 4 && parts[1] == "sessions":
		s.handleSessionAction(w, r, userID, parts[2], parts[3])

	// DELETE /api/sessions/{id}
	case r.Method == http.MethodDelete && len(parts) == 3 && parts[1] == "sessions":
		if err := s.service.Close(userID, parts[2]); err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown route", nil)
	}
}

func (s *HTTPServer) handleOpenBook(w http.ResponseWriter, r *http.Request, userID, bookID string) {
	view, err := s.service.OpenBook(r.Context(), userID, bookID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleSessionAction(w http.ResponseWriter, r *http.Request, userID, sessionID, action string) {
	var (
		view SessionView
		err  error
	)
	switch action {
	case "mutations":
		var input MutationInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err = s.service.Mutate(r.Context(), userID, sessionID, input)
	case "undo":
		view, err = s.service.Undo(r.Context(), userID, sessionID)
	case "redo":
		view, err = s.service.Redo(r.Context(), userID, sessionID)
	case "navigate":
		var body struct {
			PageNumber int `json:"pageNumber"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err = s.service.Navigate(r.Context(), userID, sessionID, body.PageNumber)
	case "save":
		savedAt, saveErr := s.service.Save(r.Context(), userID, sessionID)
		if saveErr != nil {
			s.writeServiceError(w, saveErr)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"savedAt": savedAt})
		return
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown session action", nil)
		return
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleCreateExport(w http.ResponseWriter, r *http.Request, userID, bookID string) {
	var req export.Request
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	req.BookID = bookID
	job, err := s.service.CreateExport(r.Context(), userID, req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, jobResource(job))
}

func (s *HTTPServer) handleListExports(w http.ResponseWriter, r *http.Request, userID, bookID string) {
	jobs, err := s.service.ListExports(r.Context(), userID, bookID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	resources := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		resources = append(resources, jobResource(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": resources})
}

func (s *HTTPServer) handleListCollaborators(w http.ResponseWriter, r *http.Request, userID, bookID string) {
	friends, err := s.service.ListCollaborators(r.Context(), userID, bookID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	resources := make([]map[string]any, 0, len(friends))
	for _, f := range friends {
		resources = append(resources, collaboratorResource(f))
	}
	writeJSON(w, http.StatusOK, map[string]any{"collaborators": resources})
}

func (s *HTTPServer) handleSetCollaborator(w http.ResponseWriter, r *http.Request, userID, bookID string) {
	var body struct {
		UserID           string `json:"userId"`
		BookRole         string `json:"bookRole"`
		PageAccessLevel  string `json:"pageAccessLevel"`
		InteractionLevel string `json:"interactionLevel"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	entry, err := s.service.SetCollaborator(r.Context(), userID, bookID, store.BookFriend{
		UserID:           body.UserID,
		BookRole:         body.BookRole,
		PageAccessLevel:  body.PageAccessLevel,
		InteractionLevel: body.InteractionLevel,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, collaboratorResource(entry))
}

func collaboratorResource(f store.BookFriend) map[string]any {
	return map[string]any{
		"userId":           f.UserID,
		"bookRole":         f.BookRole,
		"pageAccessLevel":  f.PageAccessLevel,
		"interactionLevel": f.InteractionLevel,
	}
}

func (s *HTTPServer) handleDownloadExport(w http.ResponseWriter, r *http.Request, userID, exportID string) {
	job, reader, err := s.service.DownloadExport(r.Context(), userID, exportID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	defer reader.Close()

	rec, err := s.service.store.GetBook(r.Context(), job.BookID)
	filename := "book.pdf"
	if err == nil {
		filename = render.SanitizeFilename(rec.Name) + ".pdf"
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if job.FileSize > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", job.FileSize))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil {
		log.Printf("download stream %s: %v", exportID, err)
	}
}

func (s *HTTPServer) handleDeleteExport(w http.ResponseWriter, r *http.Request, userID, exportID string) {
	if err := s.service.DeleteExport(r.Context(), userID, exportID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func jobResource(job store.ExportJob) map[string]any {
	resource := map[string]any{
		"id":        job.ID,
		"bookId":    job.BookID,
		"userId":    job.UserID,
		"status":    job.Status,
		"quality":   job.Quality,
		"pageRange": job.PageRange,
		"fileSize":  job.FileSize,
		"createdAt": job.CreatedAt,
	}
	if job.PageRange == string(export.RangeSpan) {
		resource["startPage"] = job.StartPage
		resource["endPage"] = job.EndPage
	}
	if job.ErrorMessage != "" {
		resource["error"] = job.ErrorMessage
	}
	if job.CompletedAt != nil {
		resource["completedAt"] = job.CompletedAt
	}
	return resource
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	var domain *DomainError
	if errors.As(err, &domain) {
		writeError(w, domain.Status, domain.Code, domain.Message, domain.Details)
		return
	}
	log.Printf("internal error: %v", err)
	writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal error", nil)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-User-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

// requestUserID reads the identity the upstream auth layer attached.
// Authentication itself lives outside this service.
func requestUserID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
