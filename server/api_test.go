package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ymazrouei/souqstream/server/broker"
	"github.com/ymazrouei/souqstream/server/connection"
	"github.com/ymazrouei/souqstream/server/middleware"
	"github.com/ymazrouei/souqstream/server/timeline"
)

func timelineRecord(eventID, channelID string) timeline.DispatchRecord {
	return timeline.DispatchRecord{
		EventID:   eventID,
		EventType: "market_update",
		ChannelID: channelID,
		Priority:  "medium",
		Matched:   1,
		Delivered: 1,
		Timestamp: time.Now(),
	}
}

func newTestAPI(t *testing.T) (*API, *broker.Broker) {
	t.Helper()

	channels := broker.NewChannelRegistry()
	for _, ch := range broker.DefaultCatalog() {
		require.NoError(t, channels.Register(ch))
	}
	subs := broker.NewSubscriptionRegistry(channels)
	manager := connection.NewManager(subs, 8)
	t.Cleanup(manager.Shutdown)

	cfg := broker.DefaultConfig()
	cfg.DispatchInterval = 10 * time.Millisecond
	b := broker.New(cfg, channels, subs, manager)
	return NewAPI(b, manager), b
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Routes(), http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEmitEndpoint(t *testing.T) {
	api, b := newTestAPI(t)
	routes := api.Routes()

	rec := doJSON(t, routes, http.MethodPost, "/events", map[string]any{
		"type":            "market_update",
		"source":          "market-feed",
		"target_channels": []string{"gcc_markets"},
		"payload":         map[string]any{"commodity": "steel", "price": 410.5},
		"priority":        "high",
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["event_id"])

	ev := b.GetEvent(resp["event_id"])
	require.NotNil(t, ev)
	assert.Equal(t, broker.PriorityHigh, ev.Priority)
}

func TestEmitEndpointRejects(t *testing.T) {
	api, _ := newTestAPI(t)
	routes := api.Routes()

	rec := doJSON(t, routes, http.MethodPost, "/events", map[string]any{
		"type":            "price_update",
		"target_channels": []string{"gcc_markets"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, routes, http.MethodPost, "/events", map[string]any{
		"type": "market_update",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// an unparseable priority fails at decode
	rec = doJSON(t, routes, http.MethodPost, "/events", map[string]any{
		"type":            "market_update",
		"target_channels": []string{"gcc_markets"},
		"priority":        "urgent",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, routes, http.MethodGet, "/events", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestChannelsEndpoint(t *testing.T) {
	api, _ := newTestAPI(t)
	routes := api.Routes()

	rec := doJSON(t, routes, http.MethodGet, "/channels", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []*broker.Channel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 7)

	rec = doJSON(t, routes, http.MethodPost, "/channels", map[string]any{
		"id":         "user_42_orders",
		"name":       "Orders for user 42",
		"is_private": true,
	}, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, routes, http.MethodPost, "/channels", map[string]any{
		"id": "gcc_markets",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, routes, http.MethodGet, "/channels/gcc_markets", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ch broker.Channel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ch))
	assert.Equal(t, "GCC Market Updates", ch.Name)

	rec = doJSON(t, routes, http.MethodGet, "/channels/nonexistent", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubscriptionsEndpoint(t *testing.T) {
	api, _ := newTestAPI(t)
	routes := api.Routes()
	asUser := map[string]string{middleware.UserHeader: "user-1"}

	rec := doJSON(t, routes, http.MethodPost, "/subscriptions", map[string]any{
		"channel_id": "gcc_markets",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "identity header is required")

	rec = doJSON(t, routes, http.MethodPost, "/subscriptions", map[string]any{
		"channel_id": "gcc_markets",
		"filters": []map[string]any{
			{"field": "country", "operator": "in", "value": []string{"SA", "AE"}},
		},
	}, asUser)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	subID := created["subscription_id"]
	require.NotEmpty(t, subID)

	rec = doJSON(t, routes, http.MethodPost, "/subscriptions", map[string]any{
		"channel_id": "nonexistent",
	}, asUser)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, routes, http.MethodGet, "/subscriptions", nil, asUser)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []*broker.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "gcc_markets", listed[0].ChannelID)

	rec = doJSON(t, routes, http.MethodDelete, "/subscriptions/"+subID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var released map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &released))
	assert.True(t, released["released"])

	rec = doJSON(t, routes, http.MethodDelete, "/subscriptions/"+subID, nil, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &released))
	assert.False(t, released["released"], "second release is a no-op")
}

func TestStatsEndpoint(t *testing.T) {
	api, b := newTestAPI(t)
	routes := api.Routes()

	_, err := b.Emit(broker.EmitInput{
		Type:           broker.EventMarketUpdate,
		Source:         "market-feed",
		TargetChannels: []string{"gcc_markets"},
	})
	require.NoError(t, err)

	rec := doJSON(t, routes, http.MethodGet, "/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats broker.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, uint64(1), stats.TotalEvents)
	assert.Equal(t, 1, stats.QueuedEvents)
	assert.Equal(t, 7, stats.TotalChannels)
	assert.Equal(t, uint64(1), stats.EventsByType["market_update"])
}

func TestBroadcastEndpoint(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := doJSON(t, api.Routes(), http.MethodPost, "/admin/broadcast", map[string]any{
		"source":  "ops",
		"payload": map[string]any{"message": "maintenance at 02:00"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp["sent"], "no live connections yet")
}

func TestDispatchesEndpoint(t *testing.T) {
	api, b := newTestAPI(t)
	routes := api.Routes()

	rec := doJSON(t, routes, http.MethodGet, "/debug/dispatches", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	b.Timeline().Record(timelineRecord("ev-1", "gcc_markets"))
	b.Timeline().Record(timelineRecord("ev-2", "shipping_logistics"))

	rec = doJSON(t, routes, http.MethodGet, "/debug/dispatches?channel=gcc_markets", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "ev-1", records[0]["event_id"])
}

func TestCORSHeaders(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := doJSON(t, api.Routes(), http.MethodOptions, "/events", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
