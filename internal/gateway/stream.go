package gateway

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"

	"github.com/tidwall/gjson"

	"aichat/internal/core"
	"aichat/internal/sse"
	"aichat/internal/usage"
)

// readChunkSize is the size of a single upstream read.
const readChunkSize = 32 * 1024

// Stream is a lazy, single-pass sequence of fragments parsed from an
// upstream SSE body. Each call to Next does at most one upstream read per
// refill of its line queue. It is not safe for concurrent use.
type Stream struct {
	ctx      context.Context
	body     io.ReadCloser
	provider core.ProviderID
	model    string

	lines   sse.LineBuffer
	pending []string
	chunk   []byte
	// readErr is the error returned together with the last read. It is
	// acted on once the lines from that read are consumed.
	readErr error

	done bool
	err  error
	end  string

	fragments     int
	contentLength int
	lastID        string

	onFragment FragmentFunc
	onClose    func(s *Stream)

	closeOnce sync.Once
	closeErr  error
}

var _ core.ChatStream = (*Stream)(nil)

func newStream(ctx context.Context, body io.ReadCloser, provider core.ProviderID, model string) *Stream {
	return &Stream{
		ctx:      ctx,
		body:     body,
		provider: provider,
		model:    model,
		chunk:    make([]byte, readChunkSize),
	}
}

// Next returns the next fragment. It returns false once the stream has
// ended, after which Err reports whether a read error ended it.
func (s *Stream) Next() (core.ChatResult, bool) {
	for !s.done {
		for len(s.pending) > 0 {
			line := s.pending[0]
			s.pending = s.pending[1:]
			if result, ok := s.handleLine(line); ok {
				return result, true
			}
			if s.done {
				return core.ChatResult{}, false
			}
		}
		if s.readErr != nil {
			s.handleReadError(s.readErr)
			break
		}
		s.fill()
	}
	return core.ChatResult{}, false
}

// All ranges over the remaining fragments and closes the stream when the
// loop ends, including when the consumer breaks out early.
func (s *Stream) All() iter.Seq[core.ChatResult] {
	return func(yield func(core.ChatResult) bool) {
		defer func() {
			_ = s.Close()
		}()
		for {
			result, ok := s.Next()
			if !ok || !yield(result) {
				return
			}
		}
	}
}

// Err returns the read error that ended the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the upstream body. A stream closed before it ended is
// recorded as stopped by the consumer. Safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if !s.done {
			s.done = true
			s.end = usage.StreamEndClosed
		}
		s.pending = nil
		s.lines.Reset()
		s.closeErr = s.body.Close()
		if s.onClose != nil {
			s.onClose(s)
		}
	})
	return s.closeErr
}

// fill performs one upstream read and queues the complete lines it yields.
func (s *Stream) fill() {
	n, err := s.body.Read(s.chunk)
	if n > 0 {
		lines, feedErr := s.lines.Feed(s.chunk[:n])
		if feedErr != nil {
			s.fail(core.NewTransportError(s.provider, "failed to read stream: "+feedErr.Error(), feedErr))
			return
		}
		s.pending = append(s.pending, lines...)
	}
	if err != nil {
		s.readErr = err
	}
}

func (s *Stream) handleReadError(err error) {
	if errors.Is(err, io.EOF) {
		if tail := s.lines.Pending(); tail > 0 {
			slog.Warn("discarding incomplete stream line at end of body",
				"provider", s.provider, "bytes", tail, "request_id", core.GetRequestID(s.ctx))
		}
		slog.Warn("stream ended without [DONE]",
			"provider", s.provider, "model", s.model, "request_id", core.GetRequestID(s.ctx))
		s.finish(usage.StreamEndEOF)
		return
	}
	if s.ctx.Err() != nil {
		// The caller went away; this is not an upstream failure.
		s.finish(usage.StreamEndClosed)
		return
	}
	s.fail(core.NewTransportError(s.provider, "failed to read stream: "+err.Error(), err))
}

// handleLine interprets one complete line. It returns a result when the
// line carried a non-empty fragment and marks the stream done on [DONE].
func (s *Stream) handleLine(line string) (core.ChatResult, bool) {
	payload, ok := sse.Data(line)
	if !ok {
		return core.ChatResult{}, false
	}
	if sse.IsDone(payload) {
		s.finish(usage.StreamEndDone)
		return core.ChatResult{}, false
	}

	if !gjson.Valid(payload) {
		err := core.NewMalformedStreamEventError(s.provider, payload)
		slog.Warn("skipping malformed stream event",
			"provider", s.provider, "error", err, "request_id", core.GetRequestID(s.ctx))
		return core.ChatResult{}, false
	}

	event := gjson.Parse(payload)
	content := event.Get("choices.0.delta.content")
	if content.Type != gjson.String || content.Str == "" {
		return core.ChatResult{}, false
	}

	id := event.Get("id").String()
	if id == "" {
		id = core.SyntheticID("stream")
	}

	s.fragments++
	s.contentLength += len(content.Str)
	s.lastID = id
	if s.onFragment != nil {
		s.onFragment(s.provider, s.model)
	}
	return core.NewSuccessResult(id, s.provider, s.model, content.Str), true
}

// finish ends the stream normally and releases the body. Anything still
// buffered is discarded.
func (s *Stream) finish(end string) {
	s.done = true
	s.end = end
	_ = s.Close()
}

func (s *Stream) fail(err error) {
	s.err = err
	slog.Error("stream read failed",
		"provider", s.provider, "model", s.model, "error", err, "request_id", core.GetRequestID(s.ctx))
	s.finish(usage.StreamEndError)
}
