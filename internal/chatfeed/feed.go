// Package chatfeed streams message events from the chat gateway over a
// WebSocket and hands each decoded event to the lifecycle processor as a
// tracked background task.
//
// The connection auto-reconnects with exponential backoff (1s → 30s max)
// and authenticates with the gateway api id/hash pair. A read deadline
// (90s) catches silent server failures within ~2 missed pings. The resume
// cursor — the highest update id seen — persists through StateStore, so a
// restart asks the gateway to replay from where it left off; event
// processing is idempotent, which makes replays harmless.
package chatfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"signal-relay/internal/config"
	"signal-relay/internal/metrics"
	"signal-relay/internal/tasks"
	"signal-relay/pkg/types"
)

const (
	pingInterval     = 50 * time.Second // how often we ping to keep alive
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing control frames
)

// Handler consumes one decoded chat event.
type Handler func(ctx context.Context, evt types.MessageEvent)

// eventFrame is the gateway wire format for one chat update.
type eventFrame struct {
	UpdateID   int64     `json:"update_id"`
	Kind       string    `json:"kind"`
	ChatID     int64     `json:"chat_id"`
	ChatKind   string    `json:"chat_kind,omitempty"`
	ChatTitle  string    `json:"chat_title,omitempty"`
	ChatHandle string    `json:"chat_handle,omitempty"`
	MessageID  int64     `json:"message_id"`
	Text       string    `json:"text,omitempty"`
	PostTime   time.Time `json:"post_time"`
	ReplyTo    *int64    `json:"reply_to,omitempty"`
}

// Feed manages the gateway connection: lifecycle, keepalive, frame
// decoding, per-event dispatch, and the resume cursor.
type Feed struct {
	cfg     config.FeedConfig
	state   *StateStore
	tracker *tasks.Tracker
	handler Handler

	conn   *websocket.Conn
	connMu sync.Mutex // protects conn replacement and close

	cursor    atomic.Int64 // highest update id seen
	connected atomic.Bool

	logger *slog.Logger
}

// New creates a Feed and restores its resume cursor from the state store.
func New(cfg config.FeedConfig, state *StateStore, tracker *tasks.Tracker, handler Handler, logger *slog.Logger) (*Feed, error) {
	f := &Feed{
		cfg:     cfg,
		state:   state,
		tracker: tracker,
		handler: handler,
		logger:  logger.With("component", "chatfeed"),
	}

	cursor, err := state.LoadCursor(cfg.SessionName)
	if err != nil {
		return nil, fmt.Errorf("load resume cursor: %w", err)
	}
	f.cursor.Store(cursor)
	return f, nil
}

// Connected reports whether the gateway connection is currently up.
func (f *Feed) Connected() bool { return f.connected.Load() }

// Cursor returns the highest update id seen so far.
func (f *Feed) Cursor() int64 { return f.cursor.Load() }

// Run connects and maintains the gateway connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("chat feed disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff: 1s, 2s, 4s, 8s, ..., 30s max
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close gracefully closes the connection.
func (f *Feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	target, err := dialURL(f.cfg.URL, f.resumeOffset())
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("X-Api-Id", f.cfg.APIID)
	header.Set("X-Api-Hash", f.cfg.APIHash)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	f.connected.Store(true)
	metrics.SetFeedConnected(true)
	defer func() {
		f.connected.Store(false)
		metrics.SetFeedConnected(false)
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	f.logger.Info("chat feed connected", "cursor", f.cursor.Load())

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx, conn)

	// ReadMessage cannot take a context; close the conn to unblock it
	// when shutdown cancels ctx.
	go func() {
		<-pingCtx.Done()
		if ctx.Err() != nil {
			conn.Close()
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatch(data)
	}
}

// resumeOffset is the first update id wanted from the gateway; zero asks
// for the live tail only.
func (f *Feed) resumeOffset() int64 {
	if c := f.cursor.Load(); c > 0 {
		return c + 1
	}
	return 0
}

// dispatch decodes one frame, hands it to the processor as a tracked
// task, and advances the resume cursor. The cursor may run ahead of
// in-flight tasks; idempotent processing makes the replay window safe.
func (f *Feed) dispatch(data []byte) {
	var frame eventFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		f.logger.Debug("ignoring malformed frame", "error", err)
		return
	}

	evt := eventFromFrame(frame)
	f.tracker.Spawn("chat-event", func(ctx context.Context) {
		f.handler(ctx, evt)
	})

	if frame.UpdateID > f.cursor.Load() {
		f.cursor.Store(frame.UpdateID)
		if err := f.state.SaveCursor(f.cfg.SessionName, frame.UpdateID); err != nil {
			f.logger.Warn("persist resume cursor failed", "error", err, "update_id", frame.UpdateID)
		}
	}
}

func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

// dialURL appends the resume offset to the gateway url.
func dialURL(base string, offset int64) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}
	if offset > 0 {
		q := u.Query()
		q.Set("offset", strconv.FormatInt(offset, 10))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// eventFromFrame converts a wire frame to the domain event; post time is
// normalized to UTC here so downstream layers never see local zones.
func eventFromFrame(fr eventFrame) types.MessageEvent {
	return types.MessageEvent{
		Kind:              types.EventKind(fr.Kind),
		ChatExternalID:    fr.ChatID,
		MessageExternalID: fr.MessageID,
		Text:              fr.Text,
		PostTime:          fr.PostTime.UTC(),
		ReplyToExternalID: fr.ReplyTo,
		ChatKind:          parseChatKind(fr.ChatKind),
		ChatTitle:         fr.ChatTitle,
		ChatHandle:        fr.ChatHandle,
	}
}

// parseChatKind folds gateway chat kinds onto the domain enum; anything
// unrecognized becomes UNKNOWN.
func parseChatKind(s string) types.ChatKind {
	kind := types.ChatKind(strings.ToUpper(strings.TrimSpace(s)))
	switch kind {
	case types.ChatPrivate, types.ChatGroup, types.ChatSuperGroup, types.ChatChannel:
		return kind
	default:
		return types.ChatUnknown
	}
}
