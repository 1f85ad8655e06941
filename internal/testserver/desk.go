// Package testserver runs an in-process desk server for tests: the REST
// endpoints for tickets, comments and chat messages plus a websocket push
// endpoint with room membership.
package testserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ganot/desksync/internal/domain/entity"
	"github.com/ganot/desksync/internal/domain/scope"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

// Desk is a fake desk server.
type Desk struct {
	Server *httptest.Server
	Token  string
	// Author is stamped on records created through POST.
	Author entity.Author
	// EchoClientRef makes created records carry the submitted clientRef.
	EchoClientRef bool

	mu        sync.Mutex
	records   map[scope.Scope][]entity.Record
	nextID    int64
	failures  map[string][]int
	calls     map[string]int
	gates     map[string]chan struct{}
	conns     map[*deskConn]struct{}
	now       func() time.Time
	connected chan struct{}
}

type deskConn struct {
	conn  *websocket.Conn
	rooms map[string]bool
}

type wireFrame struct {
	Type    string `json:"type"`
	Scope   string `json:"scope,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// New starts a desk server. An empty token disables the bearer check.
func New(t *testing.T, token string) *Desk {
	t.Helper()
	d := &Desk{
		Token:     token,
		Author:    entity.Author{ID: "u1", Name: "Dana", Role: entity.RoleAgent},
		records:   map[scope.Scope][]entity.Record{},
		nextID:    1000,
		failures:  map[string][]int{},
		calls:     map[string]int{},
		gates:     map[string]chan struct{}{},
		conns:     map[*deskConn]struct{}{},
		now:       time.Now,
		connected: make(chan struct{}, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tickets", d.handleList)
	mux.HandleFunc("GET /api/tickets/{id}/comments", d.handleList)
	mux.HandleFunc("POST /api/tickets/{id}/comments", d.handleSubmit)
	mux.HandleFunc("GET /api/chats/{id}/messages", d.handleList)
	mux.HandleFunc("POST /api/chats/{id}/messages", d.handleSubmit)
	mux.HandleFunc("GET /ws", d.handleWebSocket)

	d.Server = httptest.NewServer(d.auth(mux))
	t.Cleanup(func() {
		d.DropConnections()
		d.Server.Close()
	})
	return d
}

// URL is the base URL of the REST API.
func (d *Desk) URL() string { return d.Server.URL }

// WebSocketURL is the push endpoint.
func (d *Desk) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(d.Server.URL, "http") + "/ws"
}

// Seed replaces the records of a scope.
func (d *Desk) Seed(s scope.Scope, records ...entity.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[s] = append([]entity.Record(nil), records...)
}

// Add appends a record as if another client had created it.
func (d *Desk) Add(s scope.Scope, author entity.Author, content string) entity.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addLocked(s, author, content, "")
}

// Remove deletes a record.
func (d *Desk) Remove(s scope.Scope, id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.records[s][:0]
	for _, rec := range d.records[s] {
		if rec.ID != id {
			kept = append(kept, rec)
		}
	}
	d.records[s] = kept
}

// Records returns the current records of a scope.
func (d *Desk) Records(s scope.Scope) []entity.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]entity.Record(nil), d.records[s]...)
}

// FailNext makes the next len(statuses) requests to "METHOD /path" answer
// with the given statuses.
func (d *Desk) FailNext(method, path string, statuses ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := method + " " + path
	d.failures[key] = append(d.failures[key], statuses...)
}

// Hold blocks requests to "METHOD /path" until the returned function is
// called.
func (d *Desk) Hold(method, path string) (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gates[method+" "+path] = gate
	d.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.gates, method+" "+path)
			d.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how many requests reached "METHOD /path".
func (d *Desk) Calls(method, path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[method+" "+path]
}

// Push sends an event to every connection in the room of s. Global
// events reach every connection.
func (d *Desk) Push(s scope.Scope, typ string, payload map[string]any) {
	data, _ := json.Marshal(wireFrame{Type: typ, Payload: payload})
	d.mu.Lock()
	var targets []*websocket.Conn
	for c := range d.conns {
		if s.IsGlobal() || c.rooms[s.String()] {
			targets = append(targets, c.conn)
		}
	}
	d.mu.Unlock()

	for _, conn := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = conn.Write(ctx, websocket.MessageText, data)
		cancel()
	}
}

// Joined reports whether any connection is in the room of s.
func (d *Desk) Joined(s scope.Scope) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := range d.conns {
		if c.rooms[s.String()] {
			return true
		}
	}
	return false
}

// WaitJoined waits until some connection joined s.
func (d *Desk) WaitJoined(t *testing.T, s scope.Scope) {
	t.Helper()
	require.Eventually(t, func() bool { return d.Joined(s) }, 5*time.Second, 5*time.Millisecond, "never joined %s", s)
}

// WaitConnected waits for a new websocket connection.
func (d *Desk) WaitConnected(t *testing.T) {
	t.Helper()
	select {
	case <-d.connected:
	case <-time.After(5 * time.Second):
		t.Fatal("no websocket connection")
	}
}

// DropConnections closes every websocket connection.
func (d *Desk) DropConnections() {
	d.mu.Lock()
	conns := d.conns
	d.conns = map[*deskConn]struct{}{}
	d.mu.Unlock()
	for c := range conns {
		_ = c.conn.Close(websocket.StatusGoingAway, "restart")
	}
}

func (d *Desk) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d.Token != "" && r.Header.Get("Authorization") != "Bearer "+d.Token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (d *Desk) intercept(w http.ResponseWriter, r *http.Request) bool {
	key := r.Method + " " + r.URL.Path
	d.mu.Lock()
	d.calls[key]++
	gate := d.gates[key]
	var status int
	if queue := d.failures[key]; len(queue) > 0 {
		status = queue[0]
		d.failures[key] = queue[1:]
	}
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return true
		}
	}
	if status != 0 {
		writeJSON(w, status, map[string]string{"message": http.StatusText(status)})
		return true
	}
	return false
}

func (d *Desk) handleList(w http.ResponseWriter, r *http.Request) {
	if d.intercept(w, r) {
		return
	}
	s, err := scopeFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, d.Records(s))
}

func (d *Desk) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if d.intercept(w, r) {
		return
	}
	s, err := scopeFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": err.Error()})
		return
	}
	var body struct {
		Content   string `json:"content"`
		ClientRef string `json:"clientRef"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Content) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "content is required"})
		return
	}

	d.mu.Lock()
	ref := ""
	if d.EchoClientRef {
		ref = body.ClientRef
	}
	rec := d.addLocked(s, d.Author, body.Content, ref)
	d.mu.Unlock()

	writeJSON(w, http.StatusCreated, rec)
}

func (d *Desk) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	c := &deskConn{conn: conn, rooms: map[string]bool{}}
	d.mu.Lock()
	d.conns[c] = struct{}{}
	d.mu.Unlock()
	select {
	case d.connected <- struct{}{}:
	default:
	}

	defer func() {
		d.mu.Lock()
		delete(d.conns, c)
		d.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var f wireFrame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		d.mu.Lock()
		switch f.Type {
		case "join":
			c.rooms[f.Scope] = true
		case "leave":
			delete(c.rooms, f.Scope)
		}
		d.mu.Unlock()
	}
}

func (d *Desk) addLocked(s scope.Scope, author entity.Author, content, clientRef string) entity.Record {
	d.nextID++
	rec := entity.Record{
		ID:        d.nextID,
		Scope:     s,
		Author:    author,
		Content:   content,
		CreatedAt: d.now().UTC(),
		ClientRef: clientRef,
	}
	d.records[s] = append(d.records[s], rec)
	return rec
}

func scopeFromRequest(r *http.Request) (scope.Scope, error) {
	if r.URL.Path == "/api/tickets" {
		return scope.Global, nil
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return scope.Scope{}, fmt.Errorf("bad id %q", r.PathValue("id"))
	}
	if strings.HasPrefix(r.URL.Path, "/api/chats/") {
		return scope.Chat(id), nil
	}
	return scope.Ticket(id), nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
