package llm

import (
	"context"
	"io"
)

// LoggingProvider wraps a Provider and records every request and stream
// event to a DebugLogger.
type LoggingProvider struct {
	inner  Provider
	logger *DebugLogger
}

// NewLoggingProvider wraps inner; with a nil logger it is a passthrough.
func NewLoggingProvider(inner Provider, logger *DebugLogger) *LoggingProvider {
	return &LoggingProvider{inner: inner, logger: logger}
}

func (p *LoggingProvider) Name() string { return p.inner.Name() }

func (p *LoggingProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.logger.LogRequest(p.inner.Name(), req)
	stream, err := p.inner.Stream(ctx, req)
	if err != nil {
		p.logger.LogEvent("stream_open_error", err.Error())
		return nil, err
	}
	return &loggingStream{inner: stream, logger: p.logger}, nil
}

type loggingStream struct {
	inner  Stream
	logger *DebugLogger
}

func (s *loggingStream) Recv() (Event, error) {
	ev, err := s.inner.Recv()
	switch {
	case err == io.EOF:
	case err != nil:
		s.logger.LogEvent("stream_error", err.Error())
	default:
		s.logEvent(ev)
	}
	return ev, err
}

func (s *loggingStream) logEvent(ev Event) {
	switch ev.Type {
	case EventTextDelta, EventReasoningDelta:
		// Per-chunk records would swamp the log; deltas are recoverable
		// from the final message anyway.
	case EventToolCalls:
		s.logger.LogEvent(string(ev.Type), ev.Tools)
	case EventUsage:
		s.logger.LogEvent(string(ev.Type), ev.Use)
	case EventError:
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		s.logger.LogEvent(string(ev.Type), msg)
	default:
		s.logger.LogEvent(string(ev.Type), nil)
	}
}

func (s *loggingStream) Close() error { return s.inner.Close() }
