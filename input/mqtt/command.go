package mqtt

import (
	"context"
	"fmt"

	"github.com/c360/assetflow/errors"
	"github.com/c360/assetflow/processor/rule"
)

// DriverName is the command driver name handled by CommandDriver.
const DriverName = "mqtt"

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, payload string) error
}

// CommandDriver builds executables that publish the command argument to the
// definition's target topic.
func CommandDriver(pub Publisher) rule.DriverFunc {
	return func(def rule.CommandDefinition) (rule.Executable, error) {
		if def.Target == "" {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: command %q has no topic", errors.ErrInvalidConfig, def.Name),
				"mqtt", "CommandDriver", "build "+def.Name)
		}
		topic := def.Target
		return rule.ExecutableFunc(func(ctx context.Context, arg string) error {
			return pub.Publish(ctx, topic, arg)
		}), nil
	}
}
