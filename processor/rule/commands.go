package rule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/c360/assetflow/errors"
)

// CommandDefinition is a named outbound command bound to a driver.
type CommandDefinition struct {
	Name     string `json:"name" yaml:"name"`
	Driver   string `json:"driver" yaml:"driver"`
	Target   string `json:"target" yaml:"target"`
	Value    string `json:"value,omitempty" yaml:"value,omitempty"`
	ReadOnly bool   `json:"read_only,omitempty" yaml:"read_only,omitempty"`
}

// Executable is a command instance ready to run.
type Executable interface {
	Execute(ctx context.Context, arg string) error
}

// ExecutableFunc adapts a function to Executable.
type ExecutableFunc func(ctx context.Context, arg string) error

func (f ExecutableFunc) Execute(ctx context.Context, arg string) error { return f(ctx, arg) }

// CommandDispatcher resolves command definitions and builds executables.
type CommandDispatcher interface {
	Lookup(name string) (CommandDefinition, bool)
	Build(def CommandDefinition) (Executable, error)
}

// DriverFunc builds an executable for a definition of its driver.
type DriverFunc func(def CommandDefinition) (Executable, error)

// CommandRegistry is the CommandDispatcher used by the application: command
// definitions from configuration plus one DriverFunc per driver name.
type CommandRegistry struct {
	mu      sync.RWMutex
	defs    map[string]CommandDefinition
	drivers map[string]DriverFunc
}

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		defs:    make(map[string]CommandDefinition),
		drivers: make(map[string]DriverFunc),
	}
}

// Define adds a command definition.
func (r *CommandRegistry) Define(def CommandDefinition) error {
	if def.Name == "" || def.Driver == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: command needs name and driver", errors.ErrInvalidConfig),
			"CommandRegistry", "Define", "validate definition")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: duplicate command %q", errors.ErrInvalidConfig, def.Name),
			"CommandRegistry", "Define", "validate definition")
	}
	r.defs[def.Name] = def
	return nil
}

// RegisterDriver installs the builder for a driver name.
func (r *CommandRegistry) RegisterDriver(driver string, fn DriverFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[driver] = fn
}

// Lookup implements CommandDispatcher.
func (r *CommandRegistry) Lookup(name string) (CommandDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Build implements CommandDispatcher. Read-only definitions and definitions
// without a registered driver cannot be executed.
func (r *CommandRegistry) Build(def CommandDefinition) (Executable, error) {
	if def.ReadOnly {
		return nil, errors.WrapInvalid(errors.ErrReadOnly, "CommandRegistry", "Build", "build "+def.Name)
	}
	r.mu.RLock()
	fn, ok := r.drivers[def.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: no driver %q", errors.ErrReadOnly, def.Driver),
			"CommandRegistry", "Build", "build "+def.Name)
	}
	return fn(def)
}

// Names returns the defined command names, sorted.
func (r *CommandRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CommandFacade lets rules issue named commands. Commands run asynchronously;
// a missing or failing command is logged and never aborts rule firing.
type CommandFacade struct {
	commands CommandDispatcher
	dispatch AsyncDispatch
	metrics  *Metrics
	logger   *slog.Logger
}

// NewCommandFacade creates a command facade. commands may be nil, in which
// case every command is reported as missing.
func NewCommandFacade(commands CommandDispatcher, dispatch AsyncDispatch, metrics *Metrics, logger *slog.Logger) *CommandFacade {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandFacade{
		commands: commands,
		dispatch: dispatch,
		metrics:  metrics,
		logger:   logger.With("facade", "command"),
	}
}

// Command runs the named command with its configured default value.
func (f *CommandFacade) Command(pc *ProcessingContext, name string) {
	f.run(pc, name, nil)
}

// CommandWithValue runs the named command with value as its argument.
func (f *CommandFacade) CommandWithValue(pc *ProcessingContext, name, value string) {
	f.run(pc, name, &value)
}

func (f *CommandFacade) run(pc *ProcessingContext, name string, value *string) {
	if f.commands == nil {
		f.logger.Warn("Command not found, no command dispatcher configured", "command", name)
		f.metrics.recordCommand("missing")
		return
	}

	def, ok := f.commands.Lookup(name)
	if !ok {
		f.logger.Warn("Command not found", "command", name, "dispatch_id", pc.ID())
		f.metrics.recordCommand("missing")
		return
	}

	exe, err := f.commands.Build(def)
	if err != nil || exe == nil {
		f.logger.Warn("Command cannot be executed", "command", name, "driver", def.Driver, "error", err)
		f.metrics.recordCommand("not_executable")
		return
	}

	arg := def.Value
	if value != nil {
		arg = *value
	}

	if f.dispatch == nil {
		f.logger.Error("No dispatcher for command", "command", name, "argument", arg)
		f.metrics.recordCommand("dropped")
		return
	}

	err = f.dispatch.Dispatch("command", name, func(ctx context.Context) error {
		defer func() {
			if r := recover(); r != nil {
				f.logger.Error("Command panicked", "command", name, "argument", arg, "panic", r)
				f.metrics.recordCommand("failed")
			}
		}()
		if err := exe.Execute(ctx, arg); err != nil {
			f.logger.Error("Command failed", "command", name, "argument", arg, "error", err)
			f.metrics.recordCommand("failed")
			return nil
		}
		f.metrics.recordCommand("executed")
		return nil
	})
	if err != nil {
		f.logger.Error("Failed to dispatch command", "command", name, "argument", arg, "error", err)
		f.metrics.recordCommand("dropped")
	}
}
