package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"collabit/api/internal/auth"
	"collabit/api/internal/push"
)

type HTTPServer struct {
	service    *Service
	broker     *push.Broker
	jwtSecret  []byte
	corsOrigin string
}

func NewHTTPServer(service *Service, broker *push.Broker, jwtSecret []byte, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, broker: broker, jwtSecret: jwtSecret, corsOrigin: corsOrigin}
}

type identityCtxKey struct{}

func identityFrom(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(identityCtxKey{}).(auth.Identity)
	return identity, ok
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)

	r.Group(func(r chi.Router) {
		r.Use(s.requireIdentity)

		r.Route("/api/projects", func(r chi.Router) {
			r.Post("/", s.handleRegisterProject)
			r.Get("/", s.handleProjectOverview)
			r.Get("/added", s.handleAddedProjects)
			r.Get("/{code}/contributors", s.handleEffectiveContributors)
			r.Post("/{code}/close", s.handleCloseSurvey)
			r.Delete("/{code}", s.handleRemoveSurveyRecord)
		})

		r.Post("/api/surveys/{code}/answers", s.handleSubmitAnswer)
		r.Get("/api/reports/hexagon/{code}", s.handleHexagon)

		r.Route("/api/notifications", func(r chi.Router) {
			r.Get("/", s.handleNotificationSnapshot)
			r.Delete("/", s.handleReconcileAll)
			r.Delete("/{code}", s.handleReconcileOne)
		})

		r.Get("/api/events", s.handleEvents)
	})

	return r
}

func (s *HTTPServer) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
			return
		}
		identity, err := auth.ParseToken(s.jwtSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid bearer token", nil)
			return
		}
		ctx := context.WithValue(r.Context(), identityCtxKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.service.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleRegisterProject(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	var input RegisterProjectInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", nil)
		return
	}
	recordID, err := s.service.RegisterProject(r.Context(), identity, input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"code": recordID})
}

func (s *HTTPServer) handleProjectOverview(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	overview, err := s.service.ProjectOverview(r.Context(), identity.UserID, r.URL.Query().Get("keyword"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *HTTPServer) handleAddedProjects(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	added, err := s.service.AddedProjects(r.Context(), identity.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, added)
}

func (s *HTTPServer) handleEffectiveContributors(w http.ResponseWriter, r *http.Request) {
	recordID, ok := recordIDParam(w, r)
	if !ok {
		return
	}
	contributors, err := s.service.EffectiveContributors(r.Context(), recordID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contributors)
}

func (s *HTTPServer) handleCloseSurvey(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	recordID, ok := recordIDParam(w, r)
	if !ok {
		return
	}
	if err := s.service.CloseSurvey(r.Context(), identity, recordID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleRemoveSurveyRecord(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	recordID, ok := recordIDParam(w, r)
	if !ok {
		return
	}
	if err := s.service.RemoveSurveyRecord(r.Context(), identity, recordID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	recordID, ok := recordIDParam(w, r)
	if !ok {
		return
	}
	var input SubmitAnswerInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", nil)
		return
	}
	if err := s.service.SubmitAnswer(r.Context(), identity, recordID, input); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *HTTPServer) handleHexagon(w http.ResponseWriter, r *http.Request) {
	recordID, ok := recordIDParam(w, r)
	if !ok {
		return
	}
	report, err := s.service.HexagonComparison(r.Context(), recordID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleNotificationSnapshot(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	writeJSON(w, http.StatusOK, s.service.NotificationSnapshot(r.Context(), identity.UserID))
}

func (s *HTTPServer) handleReconcileAll(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	if err := s.service.ReconcileNotifications(r.Context(), identity.UserID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReconcileOne(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	recordID, ok := recordIDParam(w, r)
	if !ok {
		return
	}
	if err := s.service.ReconcileNotification(r.Context(), identity.UserID, recordID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// sseChannel adapts one SSE connection to the push.Channel contract.
type sseChannel struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newSSEChannel(w http.ResponseWriter, flusher http.Flusher) *sseChannel {
	return &sseChannel{w: w, flusher: flusher, done: make(chan struct{})}
}

func (c *sseChannel) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return errors.New("channel closed")
	default:
	}
	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

func (c *sseChannel) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "UNSUPPORTED", "streaming unsupported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	channel := newSSEChannel(w, flusher)
	s.broker.Subscribe(identity.UserID, channel)
	defer s.broker.Unsubscribe(identity.UserID, channel)

	s.service.PushSnapshot(r.Context(), identity.UserID)

	select {
	case <-r.Context().Done():
	case <-channel.done:
	}
}

func recordIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	recordID, err := strconv.ParseInt(chi.URLParam(r, "code"), 10, 64)
	if err != nil || recordID <= 0 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid survey record code", nil)
		return 0, false
	}
	return recordID, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		writeError(w, domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details)
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
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
	return json.NewDecoder(r.Body).Decode(target)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
