package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ganot/desksync/internal/domain/scope"
	"github.com/ganot/desksync/internal/repository"
	"nhooyr.io/websocket"
)

var _ repository.RoomTransport = (*WebSocket)(nil)

const (
	writeWait   = 5 * time.Second
	sendBacklog = 64
)

// WebSocketOptions configures a WebSocket transport.
type WebSocketOptions struct {
	URL     string
	Token   string
	Backoff Backoff
	Logger  *slog.Logger
}

// WebSocket is a push transport over a single websocket connection. Run
// keeps the connection alive; Join and Leave send control frames on the
// current connection.
type WebSocket struct {
	opts   WebSocketOptions
	logger *slog.Logger

	mu   sync.Mutex
	sess *wsSession
}

type wsSession struct {
	conn *websocket.Conn
	send chan []byte
	ctx  context.Context
}

// NewWebSocket creates a websocket transport.
func NewWebSocket(opts WebSocketOptions) *WebSocket {
	opts.Backoff = opts.Backoff.withDefaults()
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &WebSocket{opts: opts, logger: opts.Logger}
}

// Run dials, reads and redials until ctx is done. The first successful
// connection is reported as StateConnected and every later one as
// StateReconnected.
func (w *WebSocket) Run(ctx context.Context, sink Sink) error {
	everConnected := false
	retry := w.opts.Backoff.policy()
	attempt := 0
	for {
		conn, err := w.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			delay := retry.NextBackOff()
			w.logger.Warn("push connection failed", "url", w.opts.URL, "attempt", attempt, "retry_in", delay, "error", err)
			if waitErr := waitWithContext(ctx, delay); waitErr != nil {
				return waitErr
			}
			continue
		}
		attempt = 0
		retry.Reset()

		sessCtx, cancel := context.WithCancel(ctx)
		sess := &wsSession{conn: conn, send: make(chan []byte, sendBacklog), ctx: sessCtx}
		w.setSession(sess)

		if everConnected {
			sink.Connection(StateReconnected)
		} else {
			sink.Connection(StateConnected)
		}
		everConnected = true
		w.logger.Info("push connected", "url", w.opts.URL)

		go w.writePump(sess, cancel)
		err = w.readPump(sess, sink)
		cancel()
		w.setSession(nil)
		_ = conn.Close(websocket.StatusNormalClosure, "")

		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Warn("push connection lost", "error", err)
		sink.Connection(StateDisconnected)
	}
}

// Join asks the server to deliver events for s.
func (w *WebSocket) Join(ctx context.Context, s scope.Scope) error {
	return w.control(ctx, FrameJoin, s)
}

// Leave stops delivery of events for s.
func (w *WebSocket) Leave(ctx context.Context, s scope.Scope) error {
	return w.control(ctx, FrameLeave, s)
}

// Connected reports whether a connection is currently up.
func (w *WebSocket) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sess != nil
}

func (w *WebSocket) control(ctx context.Context, typ string, s scope.Scope) error {
	data, err := ControlFrame(typ, s)
	if err != nil {
		return err
	}
	w.mu.Lock()
	sess := w.sess
	w.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}
	select {
	case sess.send <- data:
		return nil
	case <-sess.ctx.Done():
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if w.opts.Token != "" {
		header.Set("Authorization", "Bearer "+w.opts.Token)
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, w.opts.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", w.opts.URL, err)
	}
	return conn, nil
}

func (w *WebSocket) readPump(sess *wsSession, sink Sink) error {
	for {
		typ, data, err := sess.conn.Read(sess.ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		frame, err := ParseFrame(data)
		if err != nil {
			w.logger.Warn("dropping push frame", "error", err)
			continue
		}
		if frame.IsControl() {
			continue
		}
		ev, err := frame.PushEvent(time.Now())
		if err != nil {
			w.logger.Warn("dropping push frame", "type", frame.Type, "error", err)
			continue
		}
		sink.Push(ev)
	}
}

func (w *WebSocket) writePump(sess *wsSession, cancel context.CancelFunc) {
	defer cancel()
	for {
		select {
		case <-sess.ctx.Done():
			return
		case data := <-sess.send:
			ctx, done := context.WithTimeout(sess.ctx, writeWait)
			err := sess.conn.Write(ctx, websocket.MessageText, data)
			done()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					w.logger.Warn("push write failed", "error", err)
				}
				return
			}
		}
	}
}

func (w *WebSocket) setSession(sess *wsSession) {
	w.mu.Lock()
	w.sess = sess
	w.mu.Unlock()
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
