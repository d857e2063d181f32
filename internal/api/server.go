// Package api exposes the broadcast gateway over REST/JSON: the
// start-charging broadcast endpoint and the partner administration surface.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eroaming/hub/internal/broadcast"
	"github.com/eroaming/hub/internal/middleware"
	"github.com/eroaming/hub/internal/partner"
)

// Broadcaster is the orchestration surface the handlers consume.
type Broadcaster interface {
	StartCharging(ctx context.Context, req broadcast.Request) broadcast.Response
}

// PartnerAdmin is the partner configuration surface the handlers consume.
// *partner.Cache satisfies it.
type PartnerAdmin interface {
	ActivePartners() []partner.Partner
	Create(ctx context.Context, p partner.Partner) (partner.Partner, error)
	Update(ctx context.Context, p partner.Partner) (partner.Partner, error)
	Disable(ctx context.Context, id string) error
	Refresh(ctx context.Context)
}

// ChangePublisher announces partner-configuration changes to sibling
// instances. May be nil when the gateway runs standalone.
type ChangePublisher interface {
	PublishPartnerChanged(ctx context.Context, partnerID string)
}

// Server wires the HTTP surface of the gateway.
type Server struct {
	broadcaster Broadcaster
	partners    PartnerAdmin
	publisher   ChangePublisher
	limiter     *middleware.RateLimiter
	logger      *log.Logger
}

// NewServer creates the API server. publisher may be nil.
func NewServer(b Broadcaster, partners PartnerAdmin, publisher ChangePublisher, limiter *middleware.RateLimiter) *Server {
	return &Server{
		broadcaster: b,
		partners:    partners,
		publisher:   publisher,
		limiter:     limiter,
		logger:      log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router builds the gorilla/mux router with all routes and middleware.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.recoveryMiddleware)
	r.Use(loggingMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	if s.limiter != nil {
		api.Use(s.limiter.Middleware)
	}

	api.HandleFunc("/broadcast/start-charging", s.handleStartCharging).Methods("POST")
	api.HandleFunc("/broadcast/health", s.handleBroadcastHealth).Methods("GET")

	api.HandleFunc("/partners", s.handleListPartners).Methods("GET")
	api.HandleFunc("/partners", s.handleCreatePartner).Methods("POST")
	api.HandleFunc("/partners/refresh", s.handleRefreshPartners).Methods("POST")
	api.HandleFunc("/partners/{id}", s.handleUpdatePartner).Methods("PUT")
	api.HandleFunc("/partners/{id}", s.handleDisablePartner).Methods("DELETE")

	return r
}

// ============================================================================
// BROADCAST HANDLERS
// ============================================================================

func (s *Server) handleStartCharging(w http.ResponseWriter, r *http.Request) {
	var req broadcast.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, broadcast.Response{
			Success: false,
			Message: "Invalid request body",
		})
		return
	}

	if req.UID == "" {
		writeJSON(w, http.StatusBadRequest, broadcast.Response{
			Success: false,
			Message: "UID is required",
		})
		return
	}

	s.logger.Printf("Received start-charging request for UID: %s", req.UID)

	resp := s.broadcaster.StartCharging(r.Context(), req)
	if resp.Success {
		writeJSON(w, http.StatusOK, resp)
	} else {
		writeJSON(w, http.StatusBadRequest, resp)
	}
}

func (s *Server) handleBroadcastHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("Broadcast service is healthy"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "eroaming-hub",
	})
}

// ============================================================================
// PARTNER ADMIN HANDLERS
// ============================================================================

func (s *Server) handleListPartners(w http.ResponseWriter, r *http.Request) {
	partners := s.partners.ActivePartners()

	// Never leak decrypted credentials on the admin surface.
	for i := range partners {
		partners[i].APIKey = ""
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(partners),
		"partners": partners,
	})
}

func (s *Server) handleCreatePartner(w http.ResponseWriter, r *http.Request) {
	var p partner.Partner
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created, err := s.partners.Create(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.publishChange(r.Context(), "")
	created.APIKey = ""
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdatePartner(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var p partner.Partner
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	p.ID = id

	updated, err := s.partners.Update(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.publishChange(r.Context(), id)
	updated.APIKey = ""
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDisablePartner(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.partners.Disable(r.Context(), id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.publishChange(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled", "id": id})
}

func (s *Server) handleRefreshPartners(w http.ResponseWriter, r *http.Request) {
	s.partners.Refresh(r.Context())
	s.publishChange(r.Context(), "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (s *Server) publishChange(ctx context.Context, partnerID string) {
	if s.publisher != nil {
		s.publisher.PublishPartnerChanged(ctx, partnerID)
	}
}

// ============================================================================
// MIDDLEWARE & HELPERS
// ============================================================================

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Printf("🚨 Panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
					"success": false,
					"message": "Internal server error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf(`{"method":"%s","path":"%s","duration_ms":%d}`,
			r.Method, r.URL.Path, time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
