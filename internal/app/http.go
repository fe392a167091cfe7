package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"kilnguard/api/internal/auth"
	"kilnguard/api/internal/blob"
	"kilnguard/api/internal/identity"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)

	r.Get("/api/health", s.handleHealth)
	r.Head("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)

	// Devices authenticate with their serial number and key in the body.
	r.Post("/api/telemetry/readings", s.handleIngestReading)

	r.Group(func(r chi.Router) {
		r.Use(s.requireIdentity)

		r.Get("/api/session", s.handleSession)

		r.Get("/api/kilns", s.handleListKilns)
		r.Post("/api/kilns", s.handleCreateKiln)
		r.Get("/api/kilns/{id}", s.handleGetKiln)
		r.Patch("/api/kilns/{id}", s.handleUpdateKiln)
		r.Delete("/api/kilns/{id}", s.handleDeleteKiln)
		r.Get("/api/kilns/{id}/readings", s.handleListReadings)
		r.Get("/api/kilns/{id}/alerts", s.handleListAlerts)

		r.Post("/api/documents", s.handleStoreDocument)

		r.Get("/api/permissions", s.handleListPermissions)
		r.Post("/api/permissions", s.handleSubmitPermission)
		r.Get("/api/permissions/{id}", s.handleGetPermission)
		r.Post("/api/permissions/{id}/decision", s.handleDecidePermission)
		r.Put("/api/permissions/{id}/note", s.handlePermissionNote)
		r.Post("/api/permissions/{id}/cancel", s.handleCancelPermission)
		r.Post("/api/permissions/{id}/assign", s.handleReassignPermission)
		r.Post("/api/permissions/{id}/provision", s.handleProvisionKiln)

		r.Post("/api/appointments", s.handleRequestAppointment)
		r.Get("/api/appointments/{id}", s.handleGetAppointment)
		r.Post("/api/appointments/{id}/decision", s.handleDecideAppointment)
		r.Put("/api/appointments/{id}/note", s.handleAppointmentNote)
		r.Post("/api/appointments/{id}/reschedules", s.handleRequestReschedule)

		r.Post("/api/reschedules/{id}/decision", s.handleDecideReschedule)
		r.Post("/api/reschedules/{id}/cancel", s.handleCancelReschedule)

		r.Route("/api/admin", func(r chi.Router) {
			r.Get("/accounts", s.handleListAccounts)
			r.Post("/accounts", s.handleCreateAccount)
			r.Put("/approvers/{id}/jurisdiction", s.handleUpdateJurisdiction)
			r.Get("/sensors", s.handleListSensors)
			r.Post("/sensors", s.handleCreateSensor)
			r.Post("/sensors/{id}/rotate", s.handleRotateSensor)
			r.Put("/sensors/{id}/active", s.handleSetSensorActive)
		})

		r.Get("/api/notifications", s.handleListNotifications)
		r.Patch("/api/notifications/{id}", s.handleMarkNotification)

		r.Get("/api/search", s.handleSearch)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, KindNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, KindValidation, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
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
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	payload := map[string]any{
		"userId":   caller.ID(),
		"userName": caller.Name(),
		"role":     caller.Role(),
	}
	if jurisdiction, ok := identity.JurisdictionOf(caller); ok {
		payload["jurisdiction"] = map[string]any{"district": jurisdiction.District, "sector": jurisdiction.Sector}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleListKilns(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ListKilns(r.Context(), callerFrom(r))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleCreateKiln(w http.ResponseWriter, r *http.Request) {
	var body KilnInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	payload, err := s.service.CreateKiln(r.Context(), callerFrom(r), body)
	respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleGetKiln(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.GetKiln(r.Context(), callerFrom(r), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleUpdateKiln(w http.ResponseWriter, r *http.Request) {
	var body KilnInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	payload, err := s.service.UpdateKiln(r.Context(), callerFrom(r), chi.URLParam(r, "id"), body)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleDeleteKiln(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteKiln(r.Context(), callerFrom(r), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, map[string]any{"ok": true}, err)
}

func (s *HTTPServer) handleListReadings(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", maxListLimit)
	if !ok {
		return
	}
	payload, err := s.service.ListReadings(r.Context(), callerFrom(r), chi.URLParam(r, "id"), limit)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", maxListLimit)
	if !ok {
		return
	}
	payload, err := s.service.ListAlerts(r.Context(), callerFrom(r), chi.URLParam(r, "id"), limit)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleStoreDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, blob.MaxDocumentSize+(1<<20))
	if err := r.ParseMultipartForm(blob.MaxDocumentSize); err != nil {
		writeError(w, http.StatusBadRequest, KindValidation, "INVALID_BODY", "Expected a multipart form with a file", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, KindValidation, "VALIDATION_ERROR", "file is required", nil)
		return
	}
	defer file.Close()

	payload, err := s.service.StoreDocument(r.Context(), callerFrom(r), r.FormValue("kind"), header.Filename,
		header.Header.Get("Content-Type"), file, header.Size)
	respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", maxListLimit)
	if !ok {
		return
	}
	payload, err := s.service.ListPermissions(r.Context(), callerFrom(r), r.URL.Query().Get("status"), limit)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleSubmitPermission(w http.ResponseWriter, r *http.Request) {
	var body PermissionInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	payload, err := s.service.SubmitPermission(r.Context(), callerFrom(r), body)
	respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleGetPermission(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.GetPermission(r.Context(), callerFrom(r), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, payload, err)
}

type decisionBody struct {
	Decision string `json:"decision"`
	Note     string `json:"note"`
}

func (s *HTTPServer) handleDecidePermission(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	if !decodeOrFail(w, r, &body) {
		return
	}
	payload, err := s.service.DecidePermission(r.Context(), callerFrom(r), chi.URLParam(r, "id"), body.Decision, body.Note)
	respond(w, r, http.StatusOK, payload, err)
}

type noteBody struct {
	Note string `json:"note"`
}

func (s *HTTPServer) handlePermissionNote(w http.ResponseWriter, r *http.Request) {
	var body noteBody
	if !decodeOrFail(w, r, &body) {
		return
	}
	payload, err := s.service.LeavePermissionNote(r.Context(), callerFrom(r), chi.URLParam(r, "id"), body.Note)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleCancelPermission(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.CancelPermission(r.Context(), callerFrom(r), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleReassignPermission(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ApproverID string `json:"approverId"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	payload, err := s.service.ReassignPermission(r.Context(), callerFrom(r), chi.URLParam(r, "id"), body.ApproverID)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleProvisionKiln(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ProvisionKiln(r.Context(), callerFrom(r), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleRequestAppointment(w http.ResponseWriter, r *http.Request) {
	var body AppointmentInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	payload, err := s.service.RequestAppointment(r.Context(), callerFrom(r), body)
	respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleGetAppointment(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.GetAppointment(r.Context(), callerFrom(r), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleDecideAppointment(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	if !decodeOrFail(w, r, &body) {
		return
	}
	payload, err := s.service.DecideAppointment(r.Context(), callerFrom(r), chi.URLParam(r, "id"), body.Decision, body.Note)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleAppointmentNote(w http.ResponseWriter, r *http.Request) {
	var body noteBody
	if !decodeOrFail(w, r, &body) {
		return
	}
	payload, err := s.service.LeaveAppointmentNote(r.Context(), callerFrom(r), chi.URLParam(r, "id"), body.Note)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleRequestReschedule(w http.ResponseWriter, r *http.Request) {
	var body RescheduleInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	payload, err := s.service.RequestReschedule(r.Context(), callerFrom(r), chi.URLParam(r, "id"), body)
	respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleDecideReschedule(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	if !decodeOrFail(w, r, &body) {
		return
	}
	payload, err := s.service.DecideReschedule(r.Context(), callerFrom(r), chi.URLParam(r, "id"), body.Decision, body.Note)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleCancelReschedule(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.CancelReschedule(r.Context(), callerFrom(r), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ListAccounts(r.Context(), callerFrom(r), r.URL.Query().Get("role"))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var body AccountInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	payload, err := s.service.CreateAccount(r.Context(), callerFrom(r), body)
	respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleUpdateJurisdiction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		District string `json:"district"`
		Sector   string `json:"sector"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	payload, err := s.service.UpdateApproverJurisdiction(r.Context(), callerFrom(r), chi.URLParam(r, "id"), body.District, body.Sector)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleListSensors(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ListSensors(r.Context(), callerFrom(r), r.URL.Query().Get("kilnId"))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleCreateSensor(w http.ResponseWriter, r *http.Request) {
	var body SensorInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	payload, err := s.service.CreateSensor(r.Context(), callerFrom(r), body)
	respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleRotateSensor(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.RotateSensorSecret(r.Context(), callerFrom(r), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleSetSensorActive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsActive *bool `json:"isActive"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	if body.IsActive == nil {
		writeError(w, http.StatusUnprocessableEntity, KindValidation, "VALIDATION_ERROR", "isActive is required", nil)
		return
	}
	payload, err := s.service.SetSensorActive(r.Context(), callerFrom(r), chi.URLParam(r, "id"), *body.IsActive)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", maxListLimit)
	if !ok {
		return
	}
	payload, err := s.service.ListNotifications(r.Context(), callerFrom(r), limit)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleMarkNotification(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsRead *bool `json:"isRead"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	isRead := body.IsRead == nil || *body.IsRead
	payload, err := s.service.MarkNotificationRead(r.Context(), callerFrom(r), chi.URLParam(r, "id"), isRead)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 20)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	query := r.URL.Query()
	payload, err := s.service.Search(r.Context(), callerFrom(r), query.Get("q"), strings.TrimSpace(query.Get("type")), limit, offset)
	respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleIngestReading(w http.ResponseWriter, r *http.Request) {
	var body ReadingInput
	if !decodeOrFail(w, r, &body) {
		return
	}
	payload, err := s.service.IngestReading(r.Context(), body)
	respond(w, r, http.StatusCreated, payload, err)
}

type callerKey struct{}

func (s *HTTPServer) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, KindAuthorization, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		caller, err := s.service.ResolveIdentity(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, KindAuthorization, "UNAUTHORIZED", "Unauthorized", nil)
				return
			}
			slog.Error("identity lookup failed", "request_id", requestIDFrom(r.Context()), "error", err)
			writeError(w, http.StatusInternalServerError, KindInternal, "SERVER_ERROR", "Identity lookup failed", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

func callerFrom(r *http.Request) identity.Account {
	caller, _ := r.Context().Value(callerKey{}).(identity.Account)
	return caller
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

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		slog.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind Kind, code, message string, details any) {
	response := map[string]any{
		"kind":  kind,
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// respond writes payload on success or the mapped error.
func respond(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		status, kind, code, message, details := mapError(err)
		if status == http.StatusInternalServerError {
			slog.Error("request failed", "request_id", requestIDFrom(r.Context()), "path", r.URL.Path, "error", err)
		}
		writeError(w, status, kind, code, message, details)
		return
	}
	writeJSON(w, status, payload)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func decodeOrFail(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, KindValidation, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, KindValidation, "VALIDATION_ERROR", key+" must be an integer", nil)
		return 0, false
	}
	return parsed, true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, kind Kind, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Kind, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, KindNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, KindAuthorization, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, KindInternal, "SERVER_ERROR", "Server error", nil
}
