// Package events turns a job's persisted event log into a live, resumable
// stream. A consumer attaches with the last sequence number it has seen;
// everything after that is replayed from the log, then new events are
// delivered as the running scan appends them.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/menulens/api/internal/config"
	"github.com/menulens/api/pkg/models"
)

// EventSource is the slice of the store the streamer reads from.
type EventSource interface {
	ListEventsAfter(ctx context.Context, jobID uuid.UUID, afterSeq int64, limit int) ([]*models.ScanEvent, error)
}

// Frame is one unit delivered to a stream consumer: a persisted event
// carrying its seq, or a transport signal (heartbeat, timeout) with Seq 0.
type Frame struct {
	Seq     int64
	Type    string
	Payload json.RawMessage
}

// Streamer reads a job's event log and pushes frames to a consumer callback.
type Streamer struct {
	source    EventSource
	poll      time.Duration
	heartbeat time.Duration
	maxWait   time.Duration
}

func NewStreamer(source EventSource, cfg config.StreamConfig) *Streamer {
	return &Streamer{
		source:    source,
		poll:      cfg.PollInterval,
		heartbeat: cfg.Heartbeat,
		maxWait:   cfg.MaxWait,
	}
}

// Stream delivers the job's events with seq > afterSeq to emit, in sequence
// order, then follows the live log until the done event. Heartbeats are
// interleaved whenever the stream has been silent for the heartbeat
// interval. If the wait window closes before done, a timeout frame is sent
// and the stream ends cleanly; the client is expected to reconnect with its
// last seen seq.
//
// Returns nil after done or timeout, ctx.Err() on cancellation, or the
// first error returned by emit (a dead consumer).
func (s *Streamer) Stream(ctx context.Context, jobID uuid.UUID, afterSeq int64, emit func(Frame) error) error {
	last := afterSeq
	lastFrame := time.Now()
	deadline := time.Now().Add(s.maxWait)

	// flush delivers everything currently after last. Read failures are
	// logged and swallowed: a database hiccup should degrade into
	// heartbeats, not tear down every connected client.
	flush := func() (doneSeen bool, err error) {
		evs, listErr := s.source.ListEventsAfter(ctx, jobID, last, 0)
		if listErr != nil {
			slog.Warn("event stream read failed", "job_id", jobID, "error", listErr)
			return false, nil
		}
		for _, e := range evs {
			if err := emit(Frame{Seq: e.Seq, Type: e.Type, Payload: e.Payload}); err != nil {
				return false, err
			}
			last = e.Seq
			lastFrame = time.Now()
			if e.Type == models.EventDone {
				return true, nil
			}
		}
		return false, nil
	}

	done, err := flush()
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		done, err := flush()
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if time.Now().After(deadline) {
			return emit(timeoutFrame())
		}
		if time.Since(lastFrame) >= s.heartbeat {
			if err := emit(heartbeatFrame()); err != nil {
				return err
			}
			lastFrame = time.Now()
		}
	}
}

func heartbeatFrame() Frame {
	payload, _ := json.Marshal(models.HeartbeatPayload{
		TS: time.Now().UTC().Format(time.RFC3339),
	})
	return Frame{Type: models.EventHeartbeat, Payload: payload}
}

func timeoutFrame() Frame {
	payload, _ := json.Marshal(models.TimeoutPayload{
		Message: "Connection timeout, please reconnect",
	})
	return Frame{Type: models.EventTimeout, Payload: payload}
}
