package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelSinkDelivers(t *testing.T) {
	s := NewChannelSink(4)
	s.Publish(Event{Type: TypePeerSeen})

	ev := <-s.C()
	assert.Equal(t, TypePeerSeen, ev.Type)
	assert.False(t, ev.Time.IsZero())
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	s := NewChannelSink(1)
	s.Publish(Event{Type: TypePeerSeen})
	// the buffer is full; this must not block
	s.Publish(Event{Type: TypePeerOffline})

	ev := <-s.C()
	assert.Equal(t, TypePeerSeen, ev.Type)

	select {
	case ev := <-s.C():
		t.Fatalf("unexpected buffered event %s", ev.Type)
	default:
	}
}

func TestFanout(t *testing.T) {
	a := NewChannelSink(4)
	b := NewChannelSink(4)
	f := Fanout{a, b}

	f.Publish(Event{Type: TypeSessionCompleted, SessionID: "s1"})

	got := <-a.C()
	require.Equal(t, "s1", got.SessionID)
	got = <-b.C()
	require.Equal(t, "s1", got.SessionID)
	assert.False(t, got.Time.IsZero())
}
