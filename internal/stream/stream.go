// Package stream implements the server-sent-events channel that carries
// pipeline progress to the browser, plus the stage-event emitter layered on
// top of it.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/niyazmukh/content-pipeline-sub001/internal/core"
	"github.com/niyazmukh/content-pipeline-sub001/internal/logger"
)

// Event names used on the wire.
const (
	EventStage             = "stage-event"
	EventFatal             = "fatal"
	EventRetrievalResult   = "retrieval-result"
	EventOutlineResult     = "outline-result"
	EventTargetedResearch  = "targeted-research-result"
	EventArticleResult     = "article-result"
	EventImagePromptResult = "image-prompt-result"
	EventClusterResult     = "cluster-result"
)

// Stream is one open SSE response. All writes are serialized; emissions
// after Close are silent no-ops.
type Stream struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	fl     http.Flusher
	closed bool

	cancel context.CancelFunc
	stop   chan struct{}
	wg     sync.WaitGroup
}

// Open prepares w for server-sent events and starts the heartbeat. The
// returned context is cancelled when the stream closes or the client goes
// away; run the pipeline under it.
func Open(w http.ResponseWriter, r *http.Request, heartbeat time.Duration) (*Stream, context.Context, error) {
	fl, ok := w.(http.Flusher)
	if !ok {
		return nil, nil, fmt.Errorf("streaming unsupported by this connection")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	s := &Stream{w: w, fl: fl, cancel: cancel, stop: make(chan struct{})}
	if heartbeat > 0 {
		s.wg.Add(1)
		go s.heartbeatLoop(heartbeat)
	}
	return s, ctx, nil
}

func (s *Stream) heartbeatLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Comment("heartbeat")
		}
	}
}

// Event writes one named event with a JSON payload and flushes it.
func (s *Stream) Event(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal SSE payload", err, "event", name)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data)
	s.fl.Flush()
}

// Comment writes an SSE comment line. Browsers ignore it; proxies keep the
// connection warm.
func (s *Stream) Comment(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	fmt.Fprintf(s.w, ": %s\n\n", text)
	s.fl.Flush()
}

// Close stops the heartbeat, cancels the stream context and marks the
// stream dead. It is idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.stop)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// Emitter tags stage events with the run ID and a timestamp before pushing
// them onto the stream.
type Emitter struct {
	stream *Stream
	runID  string
	now    func() time.Time
}

// NewEmitter builds an emitter for one run.
func NewEmitter(s *Stream, runID string) *Emitter {
	return &Emitter{stream: s, runID: runID, now: time.Now}
}

// RunID returns the run this emitter reports for.
func (e *Emitter) RunID() string { return e.runID }

func (e *Emitter) event(stage, status, message string, data any) core.StageEvent {
	return core.StageEvent{
		RunID:   e.runID,
		Stage:   stage,
		Status:  status,
		Message: message,
		Data:    data,
		TS:      e.now().UTC().Format(time.RFC3339),
	}
}

// Stage emits a progress event for a stage.
func (e *Emitter) Stage(stage, status, message string, data any) {
	e.stream.Event(EventStage, e.event(stage, status, message, data))
}

// Result emits a named result event carrying a stage payload.
func (e *Emitter) Result(name, stage string, data any) {
	e.stream.Event(name, e.event(stage, core.StatusSuccess, "", data))
}

// Fatal emits the terminal failure event.
func (e *Emitter) Fatal(stage, message string) {
	e.stream.Event(EventFatal, e.event(stage, core.StatusFailure, message, nil))
}
