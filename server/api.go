package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ymazrouei/souqstream/server/broker"
	"github.com/ymazrouei/souqstream/server/connection"
	"github.com/ymazrouei/souqstream/server/middleware"
)

// API exposes the broker's programmatic surface over HTTP. Producers emit
// here; consumers mostly live on the WebSocket gateway, but the subscription
// registry is reachable for non-socket callers too.
type API struct {
	broker  *broker.Broker
	manager *connection.Manager
}

func NewAPI(b *broker.Broker, m *connection.Manager) *API {
	return &API{broker: b, manager: m}
}

// Routes assembles the HTTP surface, CORS-wrapped for the frontend.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/events", a.handleEmit)
	mux.HandleFunc("/channels", a.handleChannels)
	mux.HandleFunc("/channels/", a.handleGetChannel)
	mux.Handle("/subscriptions", middleware.IdentityMiddleware(http.HandlerFunc(a.handleSubscriptions)))
	mux.HandleFunc("/subscriptions/", a.handleUnsubscribe)
	mux.HandleFunc("/stats", a.handleStats)
	mux.HandleFunc("/admin/broadcast", a.handleBroadcast)
	mux.HandleFunc("/debug/dispatches", a.handleDispatches)
	mux.Handle("/ws", middleware.IdentityMiddleware(http.HandlerFunc(a.handleWS)))
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.CORSMiddleware(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: failed to encode response: %v", err)
	}
}

// handleEmit accepts a producer envelope and queues it. Delivery is
// asynchronous and best-effort; a 202 only means the event was validated
// and queued.
func (a *API) handleEmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var in broker.EmitInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	eventID, err := a.broker.Emit(in)
	switch {
	case errors.Is(err, broker.ErrInvalidEvent):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, broker.ErrRateLimited):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": eventID})
}

// handleChannels serves the catalog: GET lists, POST registers a new channel
// (dynamic private per-user topics). Authorization for private channels is
// the caller's responsibility.
func (a *API) handleChannels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.broker.Channels().List())
	case http.MethodPost:
		var ch broker.Channel
		if err := json.NewDecoder(r.Body).Decode(&ch); err != nil {
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := a.broker.Channels().Register(&ch); err != nil {
			if errors.Is(err, broker.ErrDuplicateChannel) {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"channel_id": ch.ID})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Path[len("/channels/"):]
	ch, err := a.broker.Channels().Get(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// handleSubscriptions is the registry surface for non-socket callers.
// Subscriptions created here participate in matching but have no transport
// until a connection binds them.
func (a *API) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.broker.Subscriptions().ListUser(userID))
	case http.MethodPost:
		var req struct {
			ChannelID string          `json:"channel_id"`
			Filters   []broker.Filter `json:"filters,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		subID, err := a.broker.Subscriptions().Subscribe(userID, req.ChannelID, req.Filters)
		if err != nil {
			if errors.Is(err, broker.ErrChannelNotFound) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{
			"subscription_id": subID,
			"channel_id":      req.ChannelID,
		})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Path[len("/subscriptions/"):]
	released := a.broker.Subscriptions().Unsubscribe(id)
	writeJSON(w, http.StatusOK, map[string]bool{"released": released})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.broker.GetStats())
}

// handleBroadcast pushes an operator notice to every live connection,
// bypassing channel matching.
func (a *API) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Payload map[string]any `json:"payload"`
		Source  string         `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	ev := &broker.Event{
		ID:        uuid.NewString(),
		Type:      broker.EventSystemNotification,
		Payload:   req.Payload,
		Timestamp: time.Now(),
		Source:    req.Source,
		Priority:  broker.PriorityHigh,
	}
	sent := a.manager.Broadcast(ev)
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}

// handleDispatches exposes the recent-dispatch ring for debugging.
func (a *API) handleDispatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if channelID := r.URL.Query().Get("channel"); channelID != "" {
		writeJSON(w, http.StatusOK, a.broker.Timeline().ByChannel(channelID, limit))
		return
	}
	writeJSON(w, http.StatusOK, a.broker.Timeline().Recent(limit))
}
