package rule

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"

	"github.com/c360/assetflow/sensor"
)

// Globals are the bindings available to rule actions. They are built once
// per engine start; per-dispatch state travels in ProcessingContext.
type Globals struct {
	Commands    *CommandFacade
	Switches    *SwitchFacade
	Ranges      *RangeFacade
	Levels      *LevelFacade
	Customs     *CustomFacade
	Persistence Persistence
	Util        Util
	JSON        JSONCodec
	Logger      *slog.Logger
}

// Persistence stores sensor states for later analysis.
type Persistence interface {
	Store(ctx context.Context, st sensor.State) error
}

// NoopPersistence discards states.
type NoopPersistence struct{}

func (NoopPersistence) Store(context.Context, sensor.State) error { return nil }

// Util holds small numeric helpers for rule actions.
type Util struct{}

// Clamp limits v to [lo, hi].
func (Util) Clamp(v, lo, hi int) int {
	return int(math.Max(float64(lo), math.Min(float64(hi), float64(v))))
}

// Scale maps v linearly from [fromLo, fromHi] to [toLo, toHi], rounding to
// the nearest integer. A degenerate source range maps to toLo.
func (Util) Scale(v, fromLo, fromHi, toLo, toHi int) int {
	if fromHi == fromLo {
		return toLo
	}
	ratio := float64(v-fromLo) / float64(fromHi-fromLo)
	return int(math.Round(float64(toLo) + ratio*float64(toHi-toLo)))
}

// JSONCodec encodes states and values for actions that emit JSON.
type JSONCodec struct{}

// MarshalState encodes the serializable snapshot of st.
func (JSONCodec) MarshalState(st sensor.State) ([]byte, error) {
	return json.Marshal(sensor.ToSnapshot(st))
}

// Marshal encodes v.
func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
