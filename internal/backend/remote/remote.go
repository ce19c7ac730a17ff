// Package remote is the client of a backend served over HTTP with a
// websocket realtime channel.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/nearby/internal/backend"
	"go.uber.org/zap"
)

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Options configures a Client.
type Options struct {
	URL         string
	RealtimeURL string // derived from URL when empty
	Timeout     time.Duration

	// OnConnectivity is called with true when the realtime channel comes up
	// and false when it drops.
	OnConnectivity func(online bool)
}

type subscription struct {
	frame backend.ClientFrame
	list  func([]backend.Document)
	one   func(backend.Document, bool)
}

// Client implements backend.Backend.
type Client struct {
	base     string
	realtime string
	http     *http.Client
	logger   *zap.Logger
	onConn   func(bool)

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[string]*subscription
	nextSub int

	// wmu serializes websocket writes.
	wmu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a client. Start must be called for subscriptions to receive
// pushes.
func New(opts Options, logger *zap.Logger) (*Client, error) {
	base := strings.TrimRight(opts.URL, "/")
	if _, err := url.Parse(base); err != nil || base == "" {
		return nil, fmt.Errorf("invalid backend url %q", opts.URL)
	}
	rt := opts.RealtimeURL
	if rt == "" {
		rt = strings.Replace(base, "http", "ws", 1) + "/v1/realtime"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	onConn := opts.OnConnectivity
	if onConn == nil {
		onConn = func(bool) {}
	}
	return &Client{
		base:     base,
		realtime: rt,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
		onConn:   onConn,
		subs:     make(map[string]*subscription),
	}, nil
}

// Start runs the realtime connection loop until Stop.
func (c *Client) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.loop(ctx)
	}()
}

// Stop closes the realtime connection and waits for the loop to exit.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-done
}

func (c *Client) loop(ctx context.Context) {
	backoff := minBackoff
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.realtime, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("realtime dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff

		c.mu.Lock()
		c.conn = conn
		frames := make([]backend.ClientFrame, 0, len(c.subs))
		for _, s := range c.subs {
			frames = append(frames, s.frame)
		}
		c.mu.Unlock()

		c.logger.Info("realtime connected", zap.String("url", c.realtime))
		for _, f := range frames {
			c.write(f)
		}
		c.onConn(true)

		c.read(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
		c.onConn(false)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("realtime disconnected, reconnecting")
	}
}

func (c *Client) read(conn *websocket.Conn) {
	for {
		var f backend.ServerFrame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		c.mu.Lock()
		s, ok := c.subs[f.Sub]
		c.mu.Unlock()
		if !ok {
			continue
		}
		if f.Error != nil {
			c.logger.Warn("subscription rejected", zap.String("sub", f.Sub), zap.String("code", string(f.Error.Code)), zap.String("message", f.Error.Message))
			continue
		}
		if s.one != nil {
			s.one(backend.Document(f.Doc), f.Exists)
			continue
		}
		docs := f.Docs
		if docs == nil {
			docs = []backend.Document{}
		}
		s.list(docs)
	}
}

// write sends a frame when connected; frames are replayed on reconnect.
func (c *Client) write(f backend.ClientFrame) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := conn.WriteJSON(f); err != nil {
		c.logger.Debug("realtime write failed", zap.Error(err))
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return backend.Wrap(backend.CodeValidation, "encode body", err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return backend.Wrap(backend.CodeValidation, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return backend.Wrap(backend.CodeUnavailable, method+" "+path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var eb backend.ErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		if eb.Message == "" {
			eb.Message = method + " " + path + ": " + strconv.Itoa(resp.StatusCode)
		}
		return eb.AsError(resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backend.Wrap(backend.CodeInternal, "decode response", err)
	}
	return nil
}

// Create implements backend.Backend.
func (c *Client) Create(ctx context.Context, table backend.Table, doc backend.Document) (string, error) {
	var out backend.CreatedBody
	if err := c.do(ctx, http.MethodPost, "/v1/"+string(table), doc, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Update implements backend.Backend.
func (c *Client) Update(ctx context.Context, table backend.Table, id string, fields backend.Document) error {
	return c.do(ctx, http.MethodPatch, "/v1/"+string(table)+"/"+url.PathEscape(id), fields, nil)
}

// Delete implements backend.Backend.
func (c *Client) Delete(ctx context.Context, table backend.Table, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/"+string(table)+"/"+url.PathEscape(id), nil, nil)
}

// Query implements backend.Backend.
func (c *Client) Query(ctx context.Context, table backend.Table, q backend.Query) ([]backend.Document, error) {
	raw, err := json.Marshal(q)
	if err != nil {
		return nil, backend.Wrap(backend.CodeValidation, "encode query", err)
	}
	var out backend.QueryBody
	if err := c.do(ctx, http.MethodGet, "/v1/"+string(table)+"?q="+url.QueryEscape(string(raw)), nil, &out); err != nil {
		return nil, err
	}
	return out.Docs, nil
}

// Subscribe implements backend.Backend. The snapshot arrives once the
// realtime channel is connected and again after every reconnect.
func (c *Client) Subscribe(table backend.Table, q backend.Query, fn func([]backend.Document)) (func(), error) {
	if _, err := backend.ParseTable(string(table)); err != nil {
		return nil, err
	}
	return c.subscribe(&subscription{
		frame: backend.ClientFrame{Op: backend.OpSubscribe, Table: table, Query: q},
		list:  fn,
	}), nil
}

// SubscribeDoc implements backend.Backend.
func (c *Client) SubscribeDoc(table backend.Table, id string, fn func(backend.Document, bool)) (func(), error) {
	if _, err := backend.ParseTable(string(table)); err != nil {
		return nil, err
	}
	return c.subscribe(&subscription{
		frame: backend.ClientFrame{Op: backend.OpSubscribeDoc, Table: table, ID: id},
		one:   fn,
	}), nil
}

func (c *Client) subscribe(s *subscription) func() {
	c.mu.Lock()
	c.nextSub++
	s.frame.Sub = "s" + strconv.Itoa(c.nextSub)
	c.subs[s.frame.Sub] = s
	c.mu.Unlock()

	c.write(s.frame)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, s.frame.Sub)
			c.mu.Unlock()
			c.write(backend.ClientFrame{Op: backend.OpUnsubscribe, Sub: s.frame.Sub})
		})
	}
}
