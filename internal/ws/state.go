// Package ws serves the remote panel: a websocket stream of panel state and
// diagnostics, virtual key presses, health and metrics.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	diag "github.com/coreman2200/funtimes-railpanel/internal/diagnostics"
	"github.com/coreman2200/funtimes-railpanel/internal/keypad"
	"github.com/coreman2200/funtimes-railpanel/internal/panel"
	"github.com/coreman2200/funtimes-railpanel/internal/speed"
)

// recentDiags is how many diagnostics a new /diag client is sent.
const recentDiags = 32

// State is shared between the control loop, which publishes into it, and
// the HTTP handlers, which only read copies and enqueue presses.
type State struct {
	mu          sync.RWMutex
	wmu         sync.Mutex
	snap        panel.Snapshot
	seq         uint64
	diags       []diag.Diagnostic
	startTime   time.Time
	clients     map[*websocket.Conn]bool
	diagClients map[*websocket.Conn]bool

	keys     *keypad.Queue
	throttle *speed.Sim
	scale    speed.Scale
	Driver   string
	log      zerolog.Logger
}

// NewState returns a State that enqueues remote presses on keys. With a
// non-nil throttle, remote clients can also set the speed.
func NewState(keys *keypad.Queue, throttle *speed.Sim, scale speed.Scale, log zerolog.Logger) *State {
	return &State{
		keys:        keys,
		throttle:    throttle,
		scale:       scale,
		startTime:   time.Now(),
		clients:     map[*websocket.Conn]bool{},
		diagClients: map[*websocket.Conn]bool{},
		log:         log.With().Str("component", "ws").Logger(),
	}
}

// Handler routes every endpoint of the remote panel.
func (s *State) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleStateWS)
	mux.HandleFunc("/diag", s.HandleDiagWS)
	mux.HandleFunc("/control", s.HandleControlWS)
	mux.HandleFunc("/health", s.HandleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return withCORS(mux)
}

// Publish stores a new snapshot and pushes it to every state client.
func (s *State) Publish(snap panel.Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.seq++
	b, _ := json.Marshal(s.message())
	conns := connList(s.clients)
	s.mu.Unlock()
	s.broadcast(conns, b)
}

// Diagnose keeps d for late joiners and pushes it to every diag client.
func (s *State) Diagnose(d diag.Diagnostic) {
	s.mu.Lock()
	s.diags = append(s.diags, d)
	if len(s.diags) > recentDiags {
		s.diags = s.diags[len(s.diags)-recentDiags:]
	}
	conns := connList(s.diagClients)
	s.mu.Unlock()
	b, _ := json.Marshal(d)
	s.broadcast(conns, b)
}

// Snapshot returns the last published snapshot.
func (s *State) Snapshot() panel.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *State) HandleStateWS(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.clients[conn] = true
	b, _ := json.Marshal(s.message())
	s.mu.Unlock()
	s.write(conn, b)
	go s.drain(conn, s.clients)
}

func (s *State) HandleDiagWS(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.diagClients[conn] = true
	backlog := append([]diag.Diagnostic(nil), s.diags...)
	s.mu.Unlock()
	for _, d := range backlog {
		b, _ := json.Marshal(d)
		s.write(conn, b)
	}
	go s.drain(conn, s.diagClients)
}

// controlMsg is one remote panel action. Exactly one field is expected.
type controlMsg struct {
	Press *struct {
		Row int `json:"row"`
		Col int `json:"col"`
	} `json:"press,omitempty"`
	Speed *int `json:"speed,omitempty"`
}

type controlReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *State) HandleControlWS(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMsg
		var reply controlReply
		if err := json.Unmarshal(data, &msg); err != nil {
			reply = controlReply{Error: "bad message: " + err.Error()}
		} else {
			reply = s.applyControl(msg)
		}
		b, _ := json.Marshal(reply)
		s.write(conn, b)
	}
}

func (s *State) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp := map[string]any{
		"seq":      s.seq,
		"uptime_s": time.Since(s.startTime).Seconds(),
		"elements": len(s.snap.Elements),
		"power":    s.snap.Power,
		"driver":   s.Driver,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *State) applyControl(msg controlMsg) controlReply {
	switch {
	case msg.Press != nil:
		if !s.keys.Push(msg.Press.Row, msg.Press.Col) {
			return controlReply{Error: "key queue full"}
		}
		s.log.Debug().Int("row", msg.Press.Row).Int("col", msg.Press.Col).Msg("remote press")
	case msg.Speed != nil:
		if s.throttle == nil {
			return controlReply{Error: "throttle is a hardware input"}
		}
		s.throttle.SetStep(s.scale, *msg.Speed)
	default:
		return controlReply{Error: "empty message"}
	}
	return controlReply{OK: true}
}

type stateMessage struct {
	T   int64          `json:"t"`
	Seq uint64         `json:"seq"`
	Pan panel.Snapshot `json:"panel"`
}

// message must be called with s.mu held.
func (s *State) message() stateMessage {
	return stateMessage{T: time.Now().UnixNano(), Seq: s.seq, Pan: s.snap}
}

// drain reads until the client goes away, then forgets it.
func (s *State) drain(conn *websocket.Conn, set map[*websocket.Conn]bool) {
	defer func() {
		s.mu.Lock()
		delete(set, conn)
		s.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *State) broadcast(conns []*websocket.Conn, b []byte) {
	for _, c := range conns {
		s.write(c, b)
	}
}

// write serializes writers; a websocket connection takes one at a time.
func (s *State) write(c *websocket.Conn, b []byte) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	c.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
	if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
		s.log.Debug().Err(err).Msg("write")
	}
}

func connList(m map[*websocket.Conn]bool) []*websocket.Conn {
	out := make([]*websocket.Conn, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	return out
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		}
		h.ServeHTTP(w, r)
	})
}
