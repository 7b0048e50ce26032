// Package httpapi exposes the sync engine to a local UI over HTTP: engine
// status, a "sync now" trigger, ledger reads and a server-sent event
// stream of sync lifecycle events.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ilyakasyanov/walletsync/internal/logging"
	"github.com/ilyakasyanov/walletsync/internal/models"
	"github.com/ilyakasyanov/walletsync/internal/scheduler"
	"github.com/ilyakasyanov/walletsync/internal/services"
	"github.com/ilyakasyanov/walletsync/internal/store"
	"github.com/ilyakasyanov/walletsync/internal/syncer"
)

type Handler struct {
	ledger    services.LedgerService
	store     *store.Store
	scheduler *scheduler.Scheduler
	events    *syncer.Emitter
	log       logging.Logger
}

func NewHandler(ledger services.LedgerService, st *store.Store, sched *scheduler.Scheduler, events *syncer.Emitter, log logging.Logger) *Handler {
	return &Handler{ledger: ledger, store: st, scheduler: sched, events: events, log: log.With("component", "httpapi")}
}

// NewRouter wires the routes. CORS is open to localhost origins only; the
// API is a local companion to the UI, not a public surface.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Post("/sync", h.TriggerSync)
		r.Get("/events", h.StreamEvents)
		r.Get("/health", h.GetHealth)

		r.Route("/entities/{type}", func(r chi.Router) {
			r.Get("/", h.ListEntities)
			r.Get("/{id}", h.GetEntity)
			r.Delete("/{id}", h.DeleteEntity)
		})
	})

	return r
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.scheduler.Status(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	h.scheduler.ForceSync()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	report, err := h.store.CheckStorageHealth(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	t := models.EntityType(chi.URLParam(r, "type"))
	if !t.Known() {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "unknown entity type"})
		return
	}
	items, err := h.ledger.List(r.Context(), t)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	t := models.EntityType(chi.URLParam(r, "type"))
	e, err := h.ledger.Get(r.Context(), t, chi.URLParam(r, "id"))
	if err != nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, e)
}

func (h *Handler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	t := models.EntityType(chi.URLParam(r, "type"))
	if err := h.ledger.DeleteByID(r.Context(), t, chi.URLParam(r, "id")); err != nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StreamEvents bridges the sync event emitter onto a server-sent events
// response. The subscription lives for the duration of the request.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondJSON(w, http.StatusNotImplemented, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// events arrive on the emitter's goroutine; hand them to the request
	// goroutine over a buffered channel so a slow client never stalls a
	// sync cycle
	ch := make(chan syncer.Event, 16)
	unsubscribe := h.events.Subscribe(func(ev syncer.Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	defer unsubscribe()

	h.log.Debug(r.Context(), "event stream opened", "remote", r.RemoteAddr)

	for {
		select {
		case ev := <-ch:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: " + string(ev.Type) + "\ndata: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}
