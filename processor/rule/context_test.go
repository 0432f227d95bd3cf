package rule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetflow/sensor"
)

func TestProcessingContext_TerminationIsWriteOnce(t *testing.T) {
	pc := NewProcessingContext(context.Background(), "d1", nil, nil, nil, nil, discardLogger())
	assert.False(t, pc.Terminated())

	pc.Terminate()
	pc.Terminate()
	assert.True(t, pc.Terminated())
}

func TestProcessingContext_ReplacementIsAsynchronous(t *testing.T) {
	dispatcher := NewDispatcher(1, 8, nil, discardLogger())
	require.NoError(t, dispatcher.Start(context.Background()))
	defer dispatcher.Stop(time.Second)

	release := make(chan struct{})
	applied := make(chan sensor.State, 2)
	replace := func(_ context.Context, st sensor.State) {
		<-release
		applied <- st
	}

	pc := NewProcessingContext(context.Background(), "d1", sensor.NewSwitchState(1, "X", true, ""),
		nil, dispatcher, replace, discardLogger())

	y := sensor.NewSwitchState(2, "Y", true, "")
	pc.TerminateAndReplaceWith(y)
	pc.TerminateAndReplaceWith(sensor.NewSwitchState(3, "Z", true, ""))

	// Returned before the replacement ran
	assert.True(t, pc.Terminated())
	assert.Equal(t, 2, pc.Replacements())
	assert.Empty(t, applied)

	close(release)
	got := []sensor.State{<-applied, <-applied}
	assert.Len(t, got, 2)
}

func TestProcessingContext_ReplacementWithoutDispatcher(t *testing.T) {
	pc := NewProcessingContext(context.Background(), "d1", nil, nil, nil, nil, discardLogger())

	pc.TerminateAndReplaceWith(sensor.NewSwitchState(2, "Y", true, ""))
	assert.True(t, pc.Terminated())
	assert.Zero(t, pc.Replacements())
}

func TestProcessingContext_DispatchFailureKeepsTermination(t *testing.T) {
	dispatch := &syncDispatch{err: errors.New("queue full")}
	called := false
	pc := NewProcessingContext(context.Background(), "d1", nil, nil, dispatch,
		func(context.Context, sensor.State) { called = true }, discardLogger())

	pc.TerminateAndReplaceWith(sensor.NewSwitchState(2, "Y", true, ""))
	assert.True(t, pc.Terminated())
	assert.False(t, called)
}

func TestProcessingContext_Lookup(t *testing.T) {
	x := sensor.NewSwitchState(1, "X", true, "")
	pc := NewProcessingContext(context.Background(), "d1", x, mapFacts{"X": x}, nil, nil, discardLogger())

	st, ok := pc.Lookup("X")
	require.True(t, ok)
	assert.Same(t, x, st)
	assert.Same(t, x, pc.Trigger())
	assert.Equal(t, "d1", pc.ID())

	_, ok = pc.Lookup("missing")
	assert.False(t, ok)
}
