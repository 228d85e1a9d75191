package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bosley/scorequeue/logx"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

type wsConnection struct {
	conn      *websocket.Conn
	send      chan []byte
	hub       *hub
	closeOnce sync.Once
}

func (c *wsConnection) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// hub fans result events out to every websocket subscriber.
type hub struct {
	mu    sync.Mutex
	conns map[*wsConnection]struct{}
}

func newHub() *hub {
	return &hub{conns: make(map[*wsConnection]struct{})}
}

func (h *hub) add(c *wsConnection) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *wsConnection) {
	h.mu.Lock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logx.Log.Error().Err(err).Msg("Failed to marshal event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		select {
		case c.send <- data:
		default:
			logx.Log.Warn().Msg("Subscriber channel full, dropping event")
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		delete(h.conns, c)
		c.close()
	}
}

// Handler returns the status server routes.
func (m *Monitor) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/api/status", m.handleStatus).Methods("GET")
	router.HandleFunc("/api/results", m.handleResults).Methods("GET")
	router.HandleFunc("/healthz", m.handleHealth).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(m.config.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/ws", m.handleWebSocket)

	return router
}

func (m *Monitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, m.Snapshot())
}

// handleResults returns the recent results ring, newest last
func (m *Monitor) handleResults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, m.Recent())
}

func (m *Monitor) handleHealth(w http.ResponseWriter, r *http.Request) {
	if m.done != nil {
		select {
		case <-m.done:
			http.Error(w, "poll loop stopped", http.StatusServiceUnavailable)
			return
		default:
		}
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok\n"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (m *Monitor) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logx.Log.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}

	wsConn := &wsConnection{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  m.hub,
	}
	m.hub.add(wsConn)

	go wsConn.writePump()
	go wsConn.readPump()
}

func (c *wsConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConnection) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logx.Log.Error().Err(err).Msg("Websocket read error")
			}
			break
		}
	}
}
