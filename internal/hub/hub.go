// Package hub serves a backend over HTTP and a websocket realtime channel.
// It is the development stand-in for the hosted backend.
package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/nearby/internal/backend"
	"go.uber.org/zap"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxBodyBytes = 1 << 20
)

// Server exposes a backend.Backend.
type Server struct {
	backend  backend.Backend
	logger   *zap.Logger
	upgrader websocket.Upgrader
	router   *mux.Router
}

// NewServer creates a hub over b.
func NewServer(b backend.Backend, logger *zap.Logger) *Server {
	s := &Server{
		backend: b,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.HandleFunc("/v1/realtime", s.realtime).Methods(http.MethodGet)
	r.HandleFunc("/v1/{table}", s.query).Methods(http.MethodGet)
	r.HandleFunc("/v1/{table}", s.create).Methods(http.MethodPost)
	r.HandleFunc("/v1/{table}/{id}", s.update).Methods(http.MethodPatch)
	r.HandleFunc("/v1/{table}/{id}", s.delete).Methods(http.MethodDelete)
	s.router = r
	return s
}

// Handler returns the HTTP handler of the hub.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) table(w http.ResponseWriter, r *http.Request) (backend.Table, bool) {
	t, err := backend.ParseTable(mux.Vars(r)["table"])
	if err != nil {
		writeError(w, err)
		return "", false
	}
	return t, true
}

func (s *Server) body(w http.ResponseWriter, r *http.Request) (backend.Document, bool) {
	var doc backend.Document
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&doc); err != nil {
		writeError(w, backend.Wrap(backend.CodeValidation, "invalid body", err))
		return nil, false
	}
	return doc, true
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	table, ok := s.table(w, r)
	if !ok {
		return
	}
	doc, ok := s.body(w, r)
	if !ok {
		return
	}
	id, err := s.backend.Create(r.Context(), table, doc)
	if err != nil {
		s.logger.Debug("create rejected", zap.String("table", string(table)), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, backend.CreatedBody{ID: id})
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	table, ok := s.table(w, r)
	if !ok {
		return
	}
	doc, ok := s.body(w, r)
	if !ok {
		return
	}
	if err := s.backend.Update(r.Context(), table, mux.Vars(r)["id"], doc); err != nil {
		s.logger.Debug("update rejected", zap.String("table", string(table)), zap.Error(err))
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	table, ok := s.table(w, r)
	if !ok {
		return
	}
	if err := s.backend.Delete(r.Context(), table, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// query answers GET /v1/{table}?q=<json Query>.
func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	table, ok := s.table(w, r)
	if !ok {
		return
	}
	var q backend.Query
	if raw := r.URL.Query().Get("q"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			writeError(w, backend.Wrap(backend.CodeValidation, "invalid query", err))
			return
		}
	}
	docs, err := s.backend.Query(r.Context(), table, q)
	if err != nil {
		writeError(w, err)
		return
	}
	if docs == nil {
		docs = []backend.Document{}
	}
	writeJSON(w, http.StatusOK, backend.QueryBody{Docs: docs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	body := backend.ErrorBody{Code: backend.CodeInternal, Message: err.Error()}
	var be *backend.Error
	if errors.As(err, &be) {
		body = backend.ErrorBody{Code: be.Code, Message: be.Message}
	}
	writeJSON(w, backend.HTTPStatus(err), body)
}

// session is one realtime connection and its subscriptions.
type session struct {
	conn   *websocket.Conn
	send   chan backend.ServerFrame
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[string]func()
	closed bool
	done   chan struct{}
}

func (s *Server) realtime(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	sess := &session{
		conn:   conn,
		send:   make(chan backend.ServerFrame, sendBuffer),
		logger: s.logger,
		subs:   make(map[string]func()),
		done:   make(chan struct{}),
	}
	s.logger.Debug("realtime client connected", zap.String("remote", r.RemoteAddr))

	go sess.writePump()
	sess.readPump(s.backend)
}

func (c *session) readPump(b backend.Backend) {
	defer c.close()

	c.conn.SetReadLimit(maxBodyBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f backend.ClientFrame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("realtime read failed", zap.Error(err))
			}
			return
		}
		c.handle(b, f)
	}
}

func (c *session) handle(b backend.Backend, f backend.ClientFrame) {
	switch f.Op {
	case backend.OpSubscribe, backend.OpSubscribeDoc:
		c.mu.Lock()
		_, dup := c.subs[f.Sub]
		c.mu.Unlock()
		if dup || f.Sub == "" {
			c.push(backend.ServerFrame{Sub: f.Sub, Error: &backend.ErrorBody{Code: backend.CodeConflict, Message: "duplicate subscription id"}})
			return
		}

		var (
			unsub func()
			err   error
		)
		if f.Op == backend.OpSubscribe {
			unsub, err = b.Subscribe(f.Table, f.Query, func(docs []backend.Document) {
				if docs == nil {
					docs = []backend.Document{}
				}
				c.push(backend.ServerFrame{Sub: f.Sub, Docs: docs})
			})
		} else {
			unsub, err = b.SubscribeDoc(f.Table, f.ID, func(doc backend.Document, exists bool) {
				c.push(backend.ServerFrame{Sub: f.Sub, Doc: doc, Exists: exists, Single: true})
			})
		}
		if err != nil {
			body := backend.ErrorBody{Code: backend.CodeValidation, Message: err.Error()}
			var be *backend.Error
			if errors.As(err, &be) {
				body.Code = be.Code
			}
			c.push(backend.ServerFrame{Sub: f.Sub, Error: &body})
			return
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			unsub()
			return
		}
		c.subs[f.Sub] = unsub
		c.mu.Unlock()

	case backend.OpUnsubscribe:
		c.mu.Lock()
		unsub, ok := c.subs[f.Sub]
		delete(c.subs, f.Sub)
		c.mu.Unlock()
		if ok {
			unsub()
		}
	}
}

// push queues a frame without blocking the backend's notifier. A client that
// cannot keep up is disconnected.
func (c *session) push(f backend.ServerFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- f:
	default:
		c.logger.Warn("realtime client too slow, disconnecting", zap.String("sub", f.Sub))
		c.closeLocked()
	}
}

func (c *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(f); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}

func (c *session) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *session) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	for id, unsub := range c.subs {
		// unsub only takes the backend's lock, never the session's.
		unsub()
		delete(c.subs, id)
	}
}
