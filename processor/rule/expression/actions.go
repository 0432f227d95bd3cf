package expression

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/c360/assetflow/processor/rule"
	"github.com/c360/assetflow/sensor"
)

// action is one compiled consequence step.
type action func(g *rule.Globals, pc *rule.ProcessingContext) error

// Action types
const (
	ActionSwitch  = "switch"
	ActionRange   = "range"
	ActionLevel   = "level"
	ActionCustom  = "custom"
	ActionCommand = "command"
	ActionPersist = "persist"
	ActionLog     = "log"
)

// FormatJSON makes command arguments and log entries carry JSON.
const FormatJSON = "json"

// valueSource is either a literal or the current value of another sensor.
type valueSource struct {
	literal any
	from    string
}

func (v valueSource) empty() bool { return v.literal == nil && v.from == "" }

func (v valueSource) resolve(pc *rule.ProcessingContext) (any, error) {
	if v.from == "" {
		return v.literal, nil
	}
	st, ok := pc.Lookup(v.from)
	if !ok {
		return nil, fmt.Errorf("value_from sensor %q has no fact", v.from)
	}
	val, _, err := (&defaultTypeDetector{}).GetFieldValue(st, FieldValue)
	return val, err
}

// encode renders the source as JSON: the snapshot of the value_from sensor,
// the literal, or the triggering state when the source is empty.
func (v valueSource) encode(g *rule.Globals, pc *rule.ProcessingContext) (string, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case v.from != "":
		st, ok := pc.Lookup(v.from)
		if !ok {
			return "", fmt.Errorf("value_from sensor %q has no fact", v.from)
		}
		data, err = g.JSON.MarshalState(st)
	case v.literal != nil:
		data, err = g.JSON.Marshal(v.literal)
	case pc.Trigger() != nil:
		data, err = g.JSON.MarshalState(pc.Trigger())
	default:
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// scale maps an input range onto a target's bounds.
type scale struct {
	lo, hi int
}

func compileScale(ad ActionDefinition) (*scale, error) {
	if len(ad.Scale) == 0 {
		return nil, nil
	}
	if ad.Type != ActionRange && ad.Type != ActionLevel {
		return nil, fmt.Errorf("scale applies to range and level actions only")
	}
	if len(ad.Scale) != 2 || ad.Scale[0] == ad.Scale[1] {
		return nil, fmt.Errorf("scale must be two distinct bounds, got %v", ad.Scale)
	}
	return &scale{lo: ad.Scale[0], hi: ad.Scale[1]}, nil
}

func (s *scale) apply(g *rule.Globals, v, toLo, toHi int) int {
	if s == nil {
		return v
	}
	return g.Util.Scale(v, s.lo, s.hi, toLo, toHi)
}

func compileAction(ruleID string, ad ActionDefinition) (action, error) {
	src := valueSource{literal: ad.Value, from: ad.ValueFrom}

	switch ad.Format {
	case "", "text":
	case FormatJSON:
		if ad.Type != ActionCommand && ad.Type != ActionLog {
			return nil, fmt.Errorf("format json applies to command and log actions only")
		}
	default:
		return nil, fmt.Errorf("format must be text or json, got %q", ad.Format)
	}
	sc, err := compileScale(ad)
	if err != nil {
		return nil, err
	}

	switch ad.Type {
	case ActionSwitch:
		if ad.Target == "" {
			return nil, fmt.Errorf("switch action needs a target")
		}
		switch ad.Op {
		case "on", "off", "toggle":
		default:
			return nil, fmt.Errorf("switch op must be on, off or toggle, got %q", ad.Op)
		}
		return switchAction(ad.Target, ad.Op, src), nil

	case ActionRange, ActionLevel:
		if ad.Target == "" || src.empty() {
			return nil, fmt.Errorf("%s action needs a target and a value", ad.Type)
		}
		if src.from == "" {
			if _, err := toInt(src.literal); err != nil {
				return nil, err
			}
		}
		if ad.Type == ActionRange {
			return rangeAction(ad.Target, src, sc), nil
		}
		return levelAction(ad.Target, src, sc), nil

	case ActionCustom:
		if ad.Target == "" || src.empty() {
			return nil, fmt.Errorf("custom action needs a target and a value")
		}
		return customAction(ad.Target, src), nil

	case ActionCommand:
		if ad.Target == "" {
			return nil, fmt.Errorf("command action needs a target command name")
		}
		return commandAction(ad.Target, src, ad.Format == FormatJSON), nil

	case ActionPersist:
		return persistAction(ad.Target), nil

	case ActionLog:
		if ad.Message == "" {
			return nil, fmt.Errorf("log action needs a message")
		}
		return logAction(ruleID, ad.Message, logLevel(ad.Level), ad.Format == FormatJSON), nil

	default:
		return nil, fmt.Errorf("unknown action type %q", ad.Type)
	}
}

func switchAction(target, op string, payload valueSource) action {
	return func(g *rule.Globals, pc *rule.ProcessingContext) error {
		sw, err := g.Switches.Name(pc, target)
		if err != nil {
			return err
		}

		on := op == "on" || (op == "toggle" && !sw.IsOn())
		if payload.empty() {
			if on {
				sw.On()
			} else {
				sw.Off()
			}
			return nil
		}

		val, err := payload.resolve(pc)
		if err != nil {
			return err
		}
		if on {
			sw.OnWithValue(toString(val))
		} else {
			sw.OffWithValue(toString(val))
		}
		return nil
	}
}

func rangeAction(target string, src valueSource, sc *scale) action {
	return func(g *rule.Globals, pc *rule.ProcessingContext) error {
		r, err := g.Ranges.Name(pc, target)
		if err != nil {
			return err
		}
		v, err := resolveInt(src, pc)
		if err != nil {
			return err
		}
		r.Set(sc.apply(g, v, r.Min(), r.Max()))
		return nil
	}
}

func levelAction(target string, src valueSource, sc *scale) action {
	return func(g *rule.Globals, pc *rule.ProcessingContext) error {
		l, err := g.Levels.Name(pc, target)
		if err != nil {
			return err
		}
		v, err := resolveInt(src, pc)
		if err != nil {
			return err
		}
		v = sc.apply(g, v, sensor.LevelMin, sensor.LevelMax)
		l.Set(g.Util.Clamp(v, sensor.LevelMin, sensor.LevelMax))
		return nil
	}
}

func customAction(target string, src valueSource) action {
	return func(g *rule.Globals, pc *rule.ProcessingContext) error {
		c, err := g.Customs.Name(pc, target)
		if err != nil {
			return err
		}
		val, err := src.resolve(pc)
		if err != nil {
			return err
		}
		c.SetState(toString(val))
		return nil
	}
}

func commandAction(name string, src valueSource, asJSON bool) action {
	return func(g *rule.Globals, pc *rule.ProcessingContext) error {
		if asJSON {
			arg, err := src.encode(g, pc)
			if err != nil {
				return err
			}
			g.Commands.CommandWithValue(pc, name, arg)
			return nil
		}
		if src.empty() {
			g.Commands.Command(pc, name)
			return nil
		}
		val, err := src.resolve(pc)
		if err != nil {
			return err
		}
		g.Commands.CommandWithValue(pc, name, toString(val))
		return nil
	}
}

// persistAction stores the named sensor's current fact, or the triggering
// state when target is empty.
func persistAction(target string) action {
	return func(g *rule.Globals, pc *rule.ProcessingContext) error {
		st := pc.Trigger()
		if target != "" {
			var ok bool
			if st, ok = pc.Lookup(target); !ok {
				return fmt.Errorf("persist: sensor %q has no fact", target)
			}
		}
		if st == nil {
			return nil
		}
		return g.Persistence.Store(pc.Context(), st)
	}
}

func logAction(ruleID, message string, level slog.Level, asJSON bool) action {
	return func(g *rule.Globals, pc *rule.ProcessingContext) error {
		attrs := []any{"rule", ruleID, "dispatch_id", pc.ID()}
		if trigger := pc.Trigger(); trigger != nil {
			attrs = append(attrs, "trigger", trigger.String())
			if asJSON {
				data, err := g.JSON.MarshalState(trigger)
				if err != nil {
					return err
				}
				attrs = append(attrs, "trigger_json", string(data))
			}
		}
		g.Logger.Log(pc.Context(), level, message, attrs...)
		return nil
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func resolveInt(src valueSource, pc *rule.ProcessingContext) (int, error) {
	val, err := src.resolve(pc)
	if err != nil {
		return 0, err
	}
	return toInt(val)
}

func toInt(v any) (int, error) {
	if f, ok := toFloat64(v); ok {
		return int(math.Round(f)), nil
	}
	if s, ok := v.(string); ok {
		if n, err := strconv.Atoi(s); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("value %v is not an integer", v)
}

func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
