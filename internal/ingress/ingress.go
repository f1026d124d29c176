/*
	Websocket endpoint satellites stream their device state into.

	A satellite connects to /events?node=<name> and sends one JSON message per
	event. Messages of one connection are handled strictly in arrival order;
	each gets a reply. When the connection drops, every stream the satellite
	left open is closed with a no-connection event so that stale state does
	not survive the satellite.
*/

package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/InsulaLabs/strata/internal/apierr"
	"github.com/InsulaLabs/strata/internal/events"
	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/reconcile"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64

	DefaultMaxMessageSize = 4096
)

var ErrTooManyConnections = errors.New("too many satellite connections")

// Handler processes one inbound event. *reconcile.Processor implements it.
type Handler interface {
	Handle(ctx context.Context, ev reconcile.InboundEvent) error
}

// Message is one event as sent by a satellite.
type Message struct {
	Action   string          `json:"action"`
	Event    string          `json:"event"`
	Node     string          `json:"node"`
	Resource string          `json:"resource"`
	Volume   *int            `json:"volume,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Reply answers every Message.
type Reply struct {
	Event    string `json:"event"`
	Resource string `json:"resource"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

type Config struct {
	Logger  *slog.Logger
	Handler Handler

	// Limit and Burst rate limit every connection. A zero Limit disables
	// limiting.
	Limit float64
	Burst int

	ReadBufferSize  int
	WriteBufferSize int
	MaxConnections  int
	MaxMessageSize  int64
}

type Server struct {
	appCtx   context.Context
	logger   *slog.Logger
	handler  Handler
	upgrader websocket.Upgrader

	limit          rate.Limit
	burst          int
	maxConnections int
	maxMessageSize int64

	mu       sync.Mutex
	sessions map[*session]struct{}
}

func New(ctx context.Context, config Config) *Server {
	logger := config.Logger.WithGroup("ingress")
	s := &Server{
		appCtx:         ctx,
		logger:         logger,
		handler:        config.Handler,
		limit:          rate.Inf,
		burst:          config.Burst,
		maxConnections: config.MaxConnections,
		maxMessageSize: config.MaxMessageSize,
		sessions:       make(map[*session]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				logger.Debug("websocket origin check", "origin", r.Header.Get("Origin"), "host", r.Host)
				return true
			},
		},
	}
	if config.Limit > 0 {
		s.limit = rate.Limit(config.Limit)
	}
	if s.burst <= 0 {
		s.burst = 1
	}
	if s.maxMessageSize <= 0 {
		s.maxMessageSize = DefaultMaxMessageSize
	}
	return s
}

// Handler returns the http handler serving /events.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.eventsHandler)
	return mux
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("event ingress listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("event ingress shutdown", "error", err)
			return err
		}
		s.logger.Info("event ingress stopped")
		return nil
	}
}

// Connections is the number of connected satellites.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) register(sess *session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxConnections > 0 && len(s.sessions) >= s.maxConnections {
		return ErrTooManyConnections
	}
	s.sessions[sess] = struct{}{}
	return nil
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	node, err := names.NewNodeName(r.URL.Query().Get("node"))
	if err != nil {
		s.logger.Warn("satellite connection without valid node name", "remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, "missing or invalid node", http.StatusBadRequest)
		return
	}

	sess := &session{
		server:     s,
		node:       node,
		limiter:    rate.NewLimiter(s.limit, s.burst),
		send:       make(chan []byte, sendBufferSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		streamed:   make(map[string]events.EventIdentifier),
	}
	if err := s.register(sess); err != nil {
		s.logger.Warn("rejecting satellite connection", "node", node.Display(), "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.unregister(sess)
		s.logger.Error("failed to upgrade websocket connection", "node", node.Display(), "error", err)
		return
	}
	sess.conn = conn
	s.logger.Info("satellite connected", "node", node.Display(), "remote_addr", conn.RemoteAddr().String())

	go sess.writePump()
	go sess.readPump()
}

type session struct {
	server  *Server
	conn    *websocket.Conn
	node    names.NodeName
	limiter *rate.Limiter
	send    chan []byte
	// done is closed when the reader exits, writerDone when the writer does
	done       chan struct{}
	writerDone chan struct{}

	// streams opened by a value event and not closed yet, by identifier key
	streamed map[string]events.EventIdentifier
}

func (s *session) readPump() {
	logger := s.server.logger.With("node", s.node.Display())
	defer func() {
		s.closeOpenStreams()
		close(s.done)
		s.server.unregister(s)
		s.conn.Close()
		logger.Info("satellite disconnected")
	}()

	s.conn.SetReadLimit(s.server.maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	// satellites only read while waiting for a reply, so their pings count
	// as liveness too
	s.conn.SetPingHandler(func(appData string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		err := s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Error("websocket read error", "error", err)
			} else {
				logger.Debug("websocket closed", "error", err)
			}
			return
		}
		if err := s.limiter.Wait(s.server.appCtx); err != nil {
			return
		}
		s.reply(s.handle(data))
	}
}

func (s *session) handle(data []byte) Reply {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Reply{Error: fmt.Sprintf("malformed message: %v", err)}
	}
	reply := Reply{Event: msg.Event, Resource: msg.Resource}

	ev, err := s.inbound(msg)
	if err != nil {
		reply.Error = err.Error()
		return reply
	}
	err = s.server.handler.Handle(s.server.appCtx, ev)
	// a failed update may still have reached the side cache, so its stream
	// is closed on disconnect like any other
	if ev.Action == events.ActionValue {
		s.streamed[ev.ID.Key()] = ev.ID
	} else if err == nil {
		delete(s.streamed, ev.ID.Key())
	}
	if err != nil {
		reply.Error = err.Error()
		if apierr.IsImplementation(err) {
			reply.Error = "internal error"
		}
		return reply
	}
	reply.OK = true
	return reply
}

func (s *session) inbound(msg Message) (reconcile.InboundEvent, error) {
	action, err := events.ParseAction(msg.Action)
	if err != nil {
		return reconcile.InboundEvent{}, err
	}
	node, err := names.NewNodeName(msg.Node)
	if err != nil {
		return reconcile.InboundEvent{}, err
	}
	if node.Canonical() != s.node.Canonical() {
		return reconcile.InboundEvent{}, fmt.Errorf("node %s may not report events of node %s", s.node.Display(), node.Display())
	}
	rsc, err := names.NewResourceName(msg.Resource)
	if err != nil {
		return reconcile.InboundEvent{}, err
	}
	id := events.EventIdentifier{EventName: msg.Event, NodeName: node, ResourceName: rsc}
	if msg.Volume != nil {
		nr, err := names.NewVolumeNumber(*msg.Volume)
		if err != nil {
			return reconcile.InboundEvent{}, err
		}
		id.HasVolume, id.VolumeNumber = true, nr
	}
	return reconcile.InboundEvent{Action: action, ID: id, Data: msg.Payload}, nil
}

func (s *session) closeOpenStreams() {
	for _, id := range s.streamed {
		ev := reconcile.InboundEvent{Action: events.ActionCloseNoConnection, ID: id}
		if err := s.server.handler.Handle(context.WithoutCancel(s.server.appCtx), ev); err != nil {
			s.server.logger.Warn("closing stream failed", "event", id.String(), "error", err)
		}
	}
	clear(s.streamed)
}

func (s *session) reply(r Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		s.server.logger.Error("encoding reply", "error", err)
		return
	}
	select {
	case s.send <- data:
	case <-s.writerDone:
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(s.writerDone)
		s.conn.Close()
	}()
	for {
		select {
		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.server.logger.Error("websocket write error", "node", s.node.Display(), "error", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.server.logger.Debug("websocket ping failed", "node", s.node.Display(), "error", err)
				return
			}
		case <-s.done:
			return
		case <-s.server.appCtx.Done():
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "controller shutting down"))
			return
		}
	}
}
