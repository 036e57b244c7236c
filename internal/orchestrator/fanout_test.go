package orchestrator

import (
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanout_AttachDetach(t *testing.T) {
	f := NewFanout(testLogger(), nil)
	f.Attach("b", &recordingSender{})
	f.Attach("a", &recordingSender{})
	assert.Equal(t, []string{"a", "b"}, f.Clients())
	assert.Equal(t, 2, f.Len())

	f.Detach("a")
	f.Detach("missing")
	assert.Equal(t, []string{"b"}, f.Clients())

	all := f.DetachAll()
	assert.Len(t, all, 1)
	assert.Contains(t, all, "b")
	assert.Equal(t, 0, f.Len())
}

func TestFanout_SendTo(t *testing.T) {
	f := NewFanout(testLogger(), nil)
	a, b := &recordingSender{}, &recordingSender{}
	f.Attach("a", a)
	f.Attach("b", b)

	require.NoError(t, f.SendTo("a", StatusEvent(StatusWorking)))
	assert.Len(t, a.all(), 1)
	assert.Empty(t, b.all())

	err := f.SendTo("ghost", StatusEvent(StatusIdle))
	assert.ErrorIs(t, err, ErrClientNotAttached)
}

func TestFanout_BroadcastAggregatesFailures(t *testing.T) {
	f := NewFanout(testLogger(), nil)
	ok := &recordingSender{}
	sendErr := errors.New("connection reset")
	f.Attach("ok", ok)
	f.Attach("bad1", &recordingSender{err: sendErr})
	f.Attach("bad2", &recordingSender{err: sendErr})

	err := f.Broadcast(InterruptedEvent("t1", "stop"))
	require.Error(t, err)
	assert.ErrorIs(t, err, sendErr)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 2)
	assert.Len(t, ok.all(), 1, "healthy client still receives the event")
}

func TestFanout_DeliverScopes(t *testing.T) {
	f := NewFanout(testLogger(), nil)
	a, b := &recordingSender{}, &recordingSender{}
	f.Attach("a", a)
	f.Attach("b", b)

	require.NoError(t, f.Deliver(ScopeOrigin, "a", StatusEvent(StatusWorking)))
	require.NoError(t, f.Deliver(ScopeAll, "a", AuthErrorEvent("m", "s")))
	require.NoError(t, f.Deliver(ScopeOrigin, "", StatusEvent(StatusIdle)))

	assert.Equal(t, []EventType{EventStatus, EventAuthError}, a.types())
	assert.Equal(t, []EventType{EventAuthError}, b.types())
}

func TestSenderFunc_Send(t *testing.T) {
	var got Event
	s := SenderFunc(func(ev Event) error {
		got = ev
		return nil
	})
	require.NoError(t, s.Send(MessageEvent(RoleAssistant, "hi")))
	assert.Equal(t, "hi", got.Content)
}
