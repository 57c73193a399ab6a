package events

import (
	"time"

	"github.com/rs/zerolog/log"
)

// ChannelSink buffers events on a channel for a single consumer (UI,
// integration forwarder). Events are dropped when the consumer falls
// behind rather than blocking the transfer path.
type ChannelSink struct {
	ch chan Event
}

// NewChannelSink creates a sink with the given buffer size
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Publish implements Sink.
func (s *ChannelSink) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case s.ch <- ev:
	default:
		log.Warn().Str("type", string(ev.Type)).Msg("Event dropped, sink full")
	}
}

// C returns the consumer side of the sink.
func (s *ChannelSink) C() <-chan Event {
	return s.ch
}

// LogSink writes events to the log. Used headless, when nothing consumes
// the channel sink.
type LogSink struct{}

// Publish implements Sink.
func (LogSink) Publish(ev Event) {
	e := log.Info().Str("event", string(ev.Type))
	if ev.SessionID != "" {
		e = e.Str("session", ev.SessionID)
	}
	if ev.Device != nil {
		e = e.Str("peer", ev.Device.Alias)
	}
	if ev.FileName != "" {
		e = e.Str("file", ev.FileName)
	}
	if ev.Total > 0 {
		e = e.Int64("bytes", ev.Bytes).Int64("total", ev.Total)
	}
	e.Msg("Transfer event")
}

// Fanout publishes every event to each sink in order.
type Fanout []Sink

// Publish implements Sink.
func (f Fanout) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	for _, sink := range f {
		sink.Publish(ev)
	}
}
