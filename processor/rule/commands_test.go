package rule

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetflow/errors"
)

type execRecorder struct {
	args []string
	err  error
}

func (r *execRecorder) driver(CommandDefinition) (Executable, error) {
	return ExecutableFunc(func(_ context.Context, arg string) error {
		r.args = append(r.args, arg)
		return r.err
	}), nil
}

func newTestCommands(t *testing.T, rec *execRecorder) *CommandRegistry {
	t.Helper()
	reg := NewCommandRegistry()
	reg.RegisterDriver("test", rec.driver)
	require.NoError(t, reg.Define(CommandDefinition{Name: "buzzer", Driver: "test", Value: "beep"}))
	require.NoError(t, reg.Define(CommandDefinition{Name: "meter", Driver: "test", ReadOnly: true}))
	require.NoError(t, reg.Define(CommandDefinition{Name: "relay", Driver: "modbus"}))
	return reg
}

func TestCommandRegistry_Define(t *testing.T) {
	reg := NewCommandRegistry()

	err := reg.Define(CommandDefinition{Name: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	require.NoError(t, reg.Define(CommandDefinition{Name: "b", Driver: "d"}))
	require.NoError(t, reg.Define(CommandDefinition{Name: "a", Driver: "d"}))
	assert.Error(t, reg.Define(CommandDefinition{Name: "a", Driver: "d"}))

	assert.Equal(t, []string{"a", "b"}, reg.Names())
}

func TestCommandRegistry_BuildNotExecutable(t *testing.T) {
	reg := newTestCommands(t, &execRecorder{})

	tests := []struct {
		name    string
		command string
	}{
		{"read only", "meter"},
		{"no driver", "relay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, ok := reg.Lookup(tt.command)
			require.True(t, ok)
			_, err := reg.Build(def)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrReadOnly)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestCommandFacade_Run(t *testing.T) {
	rec := &execRecorder{}
	dispatch := &syncDispatch{}
	f := NewCommandFacade(newTestCommands(t, rec), dispatch, nil, discardLogger())
	pc := NewProcessingContext(context.Background(), "d1", nil, nil, dispatch, nil, discardLogger())

	f.Command(pc, "buzzer")
	f.CommandWithValue(pc, "buzzer", "loud")

	assert.Equal(t, []string{"beep", "loud"}, rec.args)
	assert.Equal(t, []string{"command", "command"}, dispatch.kinds)
	assert.False(t, pc.Terminated(), "commands never terminate a dispatch")
}

func TestCommandFacade_UnusableCommandsAreSkipped(t *testing.T) {
	rec := &execRecorder{}
	dispatch := &syncDispatch{}
	f := NewCommandFacade(newTestCommands(t, rec), dispatch, nil, discardLogger())
	pc := NewProcessingContext(context.Background(), "d1", nil, nil, dispatch, nil, discardLogger())

	f.Command(pc, "missing")
	f.Command(pc, "meter")
	f.Command(pc, "relay")

	assert.Empty(t, rec.args)
	assert.Empty(t, dispatch.kinds)
}

func TestCommandFacade_FailuresDoNotEscape(t *testing.T) {
	rec := &execRecorder{err: fmt.Errorf("device offline")}
	reg := newTestCommands(t, rec)
	reg.RegisterDriver("panics", func(CommandDefinition) (Executable, error) {
		return ExecutableFunc(func(context.Context, string) error { panic("boom") }), nil
	})
	require.NoError(t, reg.Define(CommandDefinition{Name: "bad", Driver: "panics"}))

	f := NewCommandFacade(reg, &syncDispatch{}, nil, discardLogger())
	pc := NewProcessingContext(context.Background(), "d1", nil, nil, nil, nil, discardLogger())

	assert.NotPanics(t, func() {
		f.Command(pc, "buzzer")
		f.Command(pc, "bad")
	})
	assert.Equal(t, []string{"beep"}, rec.args)
}

func TestCommandFacade_WithoutDispatcherOrCommands(t *testing.T) {
	pc := NewProcessingContext(context.Background(), "d1", nil, nil, nil, nil, discardLogger())

	rec := &execRecorder{}
	assert.NotPanics(t, func() {
		NewCommandFacade(nil, &syncDispatch{}, nil, discardLogger()).Command(pc, "buzzer")
		NewCommandFacade(newTestCommands(t, rec), nil, nil, discardLogger()).Command(pc, "buzzer")
	})
	assert.Empty(t, rec.args)
}
