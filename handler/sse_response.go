package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Stream is a Context with an open Server-Sent Events connection.
type Stream interface {
	Context
	// Send writes v as a single "data:" frame and flushes it.
	Send(v any) error
}

// SSEHandler runs for the lifetime of the event stream. The stream ends
// when the handler returns or the client disconnects.
type SSEHandler func(stream Stream) error

type sseResponse struct {
	handler SSEHandler
}

// Render writes the event-stream headers, clears the write deadline and runs
// the handler. Handler errors other than client cancellation are reported
// wrapped in ErrStreamAborted.
func (s sseResponse) Render(w http.ResponseWriter, r *http.Request) error {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return errors.Join(ErrStreamAborted, err)
	}

	stream := &sseStream{Context: NewContext(w, r), w: w, rc: rc}
	err := s.handler(stream)
	if err == nil || errors.Is(err, context.Canceled) || r.Context().Err() != nil {
		return nil
	}
	return errors.Join(ErrStreamAborted, err)
}

// SSE creates a streaming response.
//
//	return handler.SSE(func(stream handler.Stream) error {
//		ticker := time.NewTicker(30 * time.Second)
//		defer ticker.Stop()
//		for {
//			select {
//			case <-stream.Done():
//				return nil
//			case t := <-ticker.C:
//				if err := stream.Send(map[string]any{"type": "heartbeat", "timestamp": t}); err != nil {
//					return err
//				}
//			}
//		}
//	})
func SSE(handler SSEHandler) Response {
	return sseResponse{handler: handler}
}

type sseStream struct {
	Context
	mu sync.Mutex
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (s *sseStream) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return s.rc.Flush()
}
