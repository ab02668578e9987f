package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/saasbilling/pkg/logger"
	"github.com/dmitrymomot/saasbilling/pkg/metrics"
)

// Frame types and statuses produced by the relay.
const (
	FrameConnection = "connection"
	FrameHeartbeat  = "heartbeat"
	FrameError      = "error"

	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"

	// MessageJobStatusUpdate is the backend message type filtered by session.
	MessageJobStatusUpdate = "job_status_update"
)

const (
	msgConnectionError = "Backend connection error"
	msgConnectFailed   = "Failed to connect to backend"

	maxMessageSize = 1 << 20
)

// Sink receives relay output. Implementations must be safe for concurrent use.
type Sink interface {
	Send(v any) error
}

// Frame is a message generated by the relay itself.
type Frame struct {
	Type      string `json:"type"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

type envelope struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// Relay streams the user's backend job feed into sink until ctx is canceled.
// It returns nil on cancellation, an ErrSinkClosed error when the sink stops
// accepting frames, and ErrBackendUnavailable once reconnect attempts run out.
func (c *Client) Relay(ctx context.Context, userID, token, sessionID string, sink Sink) error {
	if userID == "" {
		return ErrMissingUserID
	}
	defer metrics.StreamOpened()()

	target := c.streamURL(userID, token)
	log := c.log.With(logger.UserID(userID), logger.SessionID(sessionID))

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if attempt > c.cfg.ReconnectAttempts {
				log.WarnContext(ctx, "job relay reconnect attempts exhausted", logger.Attempt(attempt))
				return ErrBackendUnavailable
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.ReconnectDelay):
			}
		}

		conn, _, err := c.dialer.DialContext(ctx, target, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WarnContext(ctx, "job backend dial failed", logger.Attempt(attempt+1), logger.Error(err))
			if err := c.emit(sink, Frame{Type: FrameError, Message: msgConnectFailed}); err != nil {
				return err
			}
			continue
		}

		log.DebugContext(ctx, "job backend connected")
		if err := c.emit(sink, Frame{Type: FrameConnection, Status: StatusConnected}); err != nil {
			conn.Close()
			return err
		}

		err = c.stream(ctx, conn, sessionID, sink)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrSinkClosed) {
			return err
		}

		if !isNormalClose(err) {
			log.WarnContext(ctx, "job backend connection error", logger.Error(err))
			if err := c.emit(sink, Frame{Type: FrameError, Message: msgConnectionError}); err != nil {
				return err
			}
		}
		if err := c.emit(sink, Frame{Type: FrameConnection, Status: StatusDisconnected}); err != nil {
			return err
		}
		attempt = 0
	}
}

// stream pumps one backend connection. It always returns a non-nil error:
// the socket read error, or the sink error joined with ErrSinkClosed.
func (c *Client) stream(ctx context.Context, conn *websocket.Conn, sessionID string, sink Sink) error {
	conn.SetReadLimit(maxMessageSize)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})

	g.Go(func() error {
		interval := c.cfg.HeartbeatInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := c.emit(sink, Frame{Type: FrameHeartbeat}); err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return err
			}
			if !c.forwardable(ctx, data, sessionID) {
				continue
			}
			if err := sink.Send(json.RawMessage(data)); err != nil {
				return errors.Join(ErrSinkClosed, err)
			}
		}
	})

	return g.Wait()
}

// forwardable drops malformed messages and job updates addressed to another
// session. Updates without a session id go to every session.
func (c *Client) forwardable(ctx context.Context, data []byte, sessionID string) bool {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.DebugContext(ctx, "dropping malformed backend message", logger.Error(err))
		return false
	}
	if env.Type == MessageJobStatusUpdate && env.SessionID != "" && env.SessionID != sessionID {
		return false
	}
	return true
}

func (c *Client) emit(sink Sink, f Frame) error {
	f.Timestamp = c.now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	if err := sink.Send(f); err != nil {
		return errors.Join(ErrSinkClosed, err)
	}
	return nil
}

func (c *Client) streamURL(userID, token string) string {
	if token == "" {
		token = "anon"
	}
	return c.cfg.wsBase() + "/ws/" + url.PathEscape(userID) + "?token=" + url.QueryEscape("clerk_"+token)
}

func isNormalClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
}
