package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPServer exposes the service over a thin JSON surface. Authentication
// and token issuance live in the gateway in front of this API; the caller
// identity arrives as the X-User-ID header.
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
		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/users" {
		var input RegisterUserInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		user, err := s.service.RegisterUser(r.Context(), input)
		if err != nil {
			s.writeResultError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, user)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/users/verify" {
		var input struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		user, err := s.service.VerifyCredentials(r.Context(), input.Email, input.Password)
		if err != nil {
			s.writeResultError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
		return
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "X-User-ID header is required", nil)
		return
	}
	if _, err := s.service.GetUser(r.Context(), userID); err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unknown user", nil)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "projects":
		s.handleProjects(w, r, userID, parts[2:])
	case "documents":
		s.handleDocuments(w, r, userID, parts[2:])
	case "segments":
		s.handleSegments(w, r, userID, parts[2:])
	case "quotes":
		s.handleQuotes(w, r, userID, parts[2:])
	case "codes":
		s.handleCodes(w, r, userID, parts[2:])
	case "assignments":
		s.handleAssignments(w, r, userID, parts[2:])
	case "annotations":
		s.handleAnnotations(w, r, userID, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, userID string, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		var input CreateProjectInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		s.respond(w, http.StatusCreated)(s.service.CreateProject(r.Context(), input, userID))

	case len(parts) == 0 && r.Method == http.MethodGet:
		s.respond(w, http.StatusOK)(s.service.ListProjects(r.Context(), userID))

	case len(parts) == 1 && r.Method == http.MethodGet:
		s.respond(w, http.StatusOK)(s.service.GetProject(r.Context(), parts[0], userID))

	case len(parts) == 1 && r.Method == http.MethodPut:
		var input UpdateProjectInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		s.respond(w, http.StatusOK)(s.service.UpdateProject(r.Context(), parts[0], input, userID))

	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.respondNoContent(w, s.service.DeleteProject(r.Context(), parts[0], userID))

	case len(parts) == 2 && parts[1] == "collaborators" && r.Method == http.MethodGet:
		s.respond(w, http.StatusOK)(s.service.ListCollaborators(r.Context(), parts[0], userID))

	case len(parts) == 2 && parts[1] == "collaborators" && r.Method == http.MethodPost:
		var input struct {
			UserID string `json:"user_id"`
		}
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		s.respondNoContent(w, s.service.AddCollaborator(r.Context(), parts[0], input.UserID, userID))

	case len(parts) == 3 && parts[1] == "collaborators" && r.Method == http.MethodDelete:
		s.respondNoContent(w, s.service.RemoveCollaborator(r.Context(), parts[0], parts[2], userID))

	case len(parts) == 2 && parts[1] == "documents" && r.Method == http.MethodGet:
		s.respond(w, http.StatusOK)(s.service.ListProjectDocuments(r.Context(), parts[0], userID))

	case len(parts) == 2 && parts[1] == "codes" && r.Method == http.MethodGet:
		s.respond(w, http.StatusOK)(s.service.ListProjectCodes(r.Context(), parts[0], userID))

	case len(parts) == 2 && parts[1] == "annotations" && r.Method == http.MethodGet:
		filter := ListAnnotationsFilter{
			Type:      r.URL.Query().Get("type"),
			CreatedBy: r.URL.Query().Get("created_by"),
		}
		s.respond(w, http.StatusOK)(s.service.ListProjectAnnotations(r.Context(), parts[0], filter, userID))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, userID string, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		var input CreateDocumentInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		s.respond(w, http.StatusCreated)(s.service.CreateDocument(r.Context(), input, userID))

	case len(parts) == 1 && r.Method == http.MethodGet:
		s.respond(w, http.StatusOK)(s.service.GetDocument(r.Context(), parts[0], userID))

	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.respondNoContent(w, s.service.DeleteDocument(r.Context(), parts[0], userID))

	case len(parts) == 2 && parts[1] == "segments" && r.Method == http.MethodGet:
		s.respond(w, http.StatusOK)(s.service.ListDocumentSegments(r.Context(), parts[0], userID))

	case len(parts) == 2 && parts[1] == "quotes" && r.Method == http.MethodGet:
		s.respond(w, http.StatusOK)(s.service.ListDocumentQuotes(r.Context(), parts[0], userID))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSegments(w http.ResponseWriter, r *http.Request, userID string, parts []string) {
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.respond(w, http.StatusOK)(s.service.GetSegment(r.Context(), parts[0], userID))

	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.respondNoContent(w, s.service.DeleteSegment(r.Context(), parts[0], userID))

	case len(parts) == 2 && parts[1] == "codes" && r.Method == http.MethodGet:
		s.respond(w, http.StatusOK)(s.service.ListSegmentCodes(r.Context(), parts[0], userID))

	case len(parts) == 3 && parts[1] == "codes" && r.Method == http.MethodDelete:
		s.respondNoContent(w, s.service.UnlinkSegmentCode(r.Context(), parts[0], parts[2], userID))

	case len(parts) == 2 && parts[1] == "annotations" && r.Method == http.MethodGet:
		s.respond(w, http.StatusOK)(s.service.ListSegmentAnnotations(r.Context(), parts[0], userID))

	case len(parts) == 2 && parts[1] == "overlapping-quotes" && r.Method == http.MethodGet:
		start, err1 := strconv.Atoi(r.URL.Query().Get("start"))
		end, err2 := strconv.Atoi(r.URL.Query().Get("end"))
		if err1 != nil || err2 != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "start and end query params are required integers", nil)
			return
		}
		s.respond(w, http.StatusOK)(s.service.OverlappingQuotes(r.Context(), parts[0], start, end, userID))

	case len(parts) == 2 && parts[1] == "generated-coding" && r.Method == http.MethodPost:
		s.respond(w, http.StatusOK)(s.service.ApplyGeneratedCoding(r.Context(), parts[0], userID))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleQuotes(w http.ResponseWriter, r *http.Request, userID string, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		var input CreateQuoteInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		quote, wasExisting, err := s.service.CreateQuote(r.Context(), input, userID)
		if err != nil {
			s.writeResultError(w, err)
			return
		}
		status := http.StatusCreated
		if wasExisting {
			status = http.StatusOK
		}
		writeJSON(w, status, map[string]any{"quote": quote, "was_existing": wasExisting})

	case len(parts) == 1 && r.Method == http.MethodGet:
		s.respond(w, http.StatusOK)(s.service.GetQuote(r.Context(), parts[0], userID))

	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.respondNoContent(w, s.service.DeleteQuote(r.Context(), parts[0], userID))

	case len(parts) == 2 && parts[1] == "context" && r.Method == http.MethodGet:
		window, _ := strconv.Atoi(r.URL.Query().Get("window"))
		s.respond(w, http.StatusOK)(s.service.GetQuoteContext(r.Context(), parts[0], window, userID))

	case len(parts) == 2 && parts[1] == "annotations" && r.Method == http.MethodGet:
		s.respond(w, http.StatusOK)(s.service.ListQuoteAnnotations(r.Context(), parts[0], userID))

	case len(parts) == 3 && parts[1] == "codes" && r.Method == http.MethodDelete:
		s.respondNoContent(w, s.service.UnlinkQuoteCode(r.Context(), parts[0], parts[2], userID))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleCodes(w http.ResponseWriter, r *http.Request, userID string, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		var input CreateCodeInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		s.respond(w, http.StatusCreated)(s.service.CreateCode(r.Context(), input, userID))

	case len(parts) == 1 && r.Method == http.MethodGet:
		s.respond(w, http.StatusOK)(s.service.GetCode(r.Context(), parts[0], userID))

	case len(parts) == 1 && r.Method == http.MethodPut:
		var input UpdateCodeInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		s.respond(w, http.StatusOK)(s.service.UpdateCode(r.Context(), parts[0], input, userID))

	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.respondNoContent(w, s.service.DeleteCode(r.Context(), parts[0], userID))

	case len(parts) == 2 && parts[1] == "parent" && r.Method == http.MethodPut:
		var input struct {
			ParentID *string `json:"parent_id"`
		}
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		s.respond(w, http.StatusOK)(s.service.ReparentCode(r.Context(), parts[0], input.ParentID, userID))

	case len(parts) == 2 && parts[1] == "quotes" && r.Method == http.MethodGet:
		s.respond(w, http.StatusOK)(s.service.ListCodeQuotes(r.Context(), parts[0], userID))

	case len(parts) == 2 && parts[1] == "segments" && r.Method == http.MethodGet:
		s.respond(w, http.StatusOK)(s.service.ListCodeSegments(r.Context(), parts[0], userID))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleAssignments(w http.ResponseWriter, r *http.Request, userID string, parts []string) {
	switch {
	case len(parts) == 1 && parts[0] == "quote-code" && r.Method == http.MethodPost:
		var input AssignQuoteCodeInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		s.respond(w, http.StatusOK)(s.service.AssignQuoteAndCode(r.Context(), input, userID))

	case len(parts) == 1 && parts[0] == "segment-code" && r.Method == http.MethodPost:
		var input AssignSegmentCodeInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		s.respond(w, http.StatusOK)(s.service.AssignCodeToSegment(r.Context(), input, userID))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleAnnotations(w http.ResponseWriter, r *http.Request, userID string, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		var input CreateAnnotationInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		s.respond(w, http.StatusCreated)(s.service.CreateAnnotation(r.Context(), input, userID))

	case len(parts) == 1 && parts[0] == "smart" && r.Method == http.MethodPost:
		var input SmartAnnotationInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		s.respond(w, http.StatusCreated)(s.service.CreateAnnotationWithOptionalQuote(r.Context(), input, userID))

	case len(parts) == 1 && r.Method == http.MethodGet:
		s.respond(w, http.StatusOK)(s.service.GetAnnotation(r.Context(), parts[0], userID))

	case len(parts) == 1 && r.Method == http.MethodPut:
		var input UpdateAnnotationInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		s.respond(w, http.StatusOK)(s.service.UpdateAnnotation(r.Context(), parts[0], input, userID))

	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.respondNoContent(w, s.service.DeleteAnnotation(r.Context(), parts[0], userID))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// respond returns a closure so handler arms can stay one-liners over
// (value, error) service calls.
func (s *HTTPServer) respond(w http.ResponseWriter, status int) func(any, error) {
	return func(payload any, err error) {
		if err != nil {
			s.writeResultError(w, err)
			return
		}
		writeJSON(w, status, payload)
	}
}

func (s *HTTPServer) respondNoContent(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeResultError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) writeResultError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.service.log.Error().Err(err).Msg("request failed")
	}
	writeError(w, status, code, message, details)
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

		s.service.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
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
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
