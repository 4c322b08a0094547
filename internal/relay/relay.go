// Package relay bridges live market data to browser clients: a WebSocket
// proxy onto the upstream trade-tick stream, and a server-sent-events feed
// of internal notifications.
package relay

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/papertrade/engine/internal/bus"
	"github.com/papertrade/engine/internal/metrics"
)

// DefaultUpstreamURL is the provider's streaming endpoint.
const DefaultUpstreamURL = "wss://ws.finnhub.io"

const (
	clientPingInterval = 25 * time.Second
	sseKeepAlive       = 20 * time.Second
	writeWait          = 10 * time.Second
)

// Relay owns the realtime endpoints. Each /ws/trades connection gets its own
// upstream subscription; /events fans the notification bus out to any number
// of SSE clients.
type Relay struct {
	events      *bus.Bus
	apiKey      string
	upstreamURL string
	dialer      *websocket.Dialer
}

// New creates a relay. upstreamURL may be empty to use the default.
func New(events *bus.Bus, apiKey, upstreamURL string) *Relay {
	if upstreamURL == "" {
		upstreamURL = DefaultUpstreamURL
	}
	return &Relay{
		events:      events,
		apiKey:      apiKey,
		upstreamURL: upstreamURL,
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Same-origin enforcement happens at the proxy layer.
	},
}

// HandleTrades handles GET /ws/trades?symbol=AAPL. The browser connection is
// upgraded, one upstream streaming connection is dialed and subscribed to the
// symbol, and everything the upstream sends is forwarded verbatim. The bridge
// holds no buffer and applies no backpressure policy beyond closing the
// connection on any send failure.
func (rl *Relay) HandleTrades(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if symbol == "" {
		http.Error(w, "missing symbol", http.StatusBadRequest)
		return
	}
	if rl.apiKey == "" {
		http.Error(w, "market data stream is not configured", http.StatusInternalServerError)
		return
	}

	client, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	metrics.WebSocketClients.Inc()
	defer metrics.WebSocketClients.Dec()
	defer client.Close()

	slog.Info("ws client connected", "symbol", symbol)

	upstream, _, err := rl.dialer.Dial(fmt.Sprintf("%s/?token=%s", rl.upstreamURL, rl.apiKey), nil)
	if err != nil {
		slog.Error("upstream ws connect failed", "err", err)
		writeClient(client, &sync.Mutex{}, websocket.TextMessage,
			[]byte(`{"type":"error","message":"stream connect failed"}`))
		return
	}
	defer upstream.Close()

	sub := fmt.Sprintf(`{"type":"subscribe","symbol":%q}`, symbol)
	if err := upstream.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
		slog.Error("upstream subscribe failed", "symbol", symbol, "err", err)
		return
	}

	// Interleaved writers (forwarding + pings) share the client connection.
	var clientMu sync.Mutex
	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }

	// Forward upstream frames verbatim. Reading also services upstream
	// ping/pong transparently (gorilla answers pings during reads).
	go func() {
		defer finish()
		for {
			msgType, msg, err := upstream.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
				continue
			}
			if err := writeClient(client, &clientMu, msgType, msg); err != nil {
				return
			}
		}
	}()

	// Drain the client to detect disconnects.
	go func() {
		defer finish()
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(clientPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			slog.Info("ws bridge closed", "symbol", symbol)
			return
		case <-ping.C:
			if err := writeClient(client, &clientMu, websocket.PingMessage, nil); err != nil {
				finish()
			}
		}
	}
}

func writeClient(conn *websocket.Conn, mu *sync.Mutex, msgType int, msg []byte) error {
	mu.Lock()
	defer mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(msgType, msg)
}

// HandleEvents handles GET /events: a long-lived SSE stream of notification
// names from the bus. Subscribers that lag receive the synthetic "lagged"
// event and are expected to re-fetch state.
func (rl *Relay) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	metrics.SSEClients.Inc()
	defer metrics.SSEClients.Dec()

	// Subscribe before the headers go out so events published the moment
	// the client sees the response are not lost.
	sub := rl.events.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: 1\n\n", ev)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
