package rule

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetflow/errors"
	"github.com/c360/assetflow/metric"
	"github.com/c360/assetflow/sensor"
	trule "github.com/c360/assetflow/types/rule"
)

func rulesSource(path, content string) trule.RuleSource {
	return trule.RuleSource{Path: path, Content: []byte(content), Kind: trule.SourceYAML}
}

type engineFixture struct {
	engine  *Engine
	session *fakeSession
	builder *fakeBuilder
}

func newEngineFixture(t *testing.T, fire func(context.Context, *ProcessingContext) (int, error), sources ...trule.RuleSource) *engineFixture {
	t.Helper()
	session := &fakeSession{fakeStore: newFakeStore(), fire: fire}
	builder := &fakeBuilder{kb: &fakeKB{session: session}}

	engine, err := NewEngine(DefaultConfig(), Dependencies{
		Logger:          discardLogger(),
		MetricsRegistry: metric.NewMetricsRegistry(),
		Sources:         StaticSourceProvider(sources),
		Builders:        func() Builder { return builder },
	})
	require.NoError(t, err)
	return &engineFixture{engine: engine, session: session, builder: builder}
}

func TestNewEngine_RequiresBuilderFactory(t *testing.T) {
	_, err := NewEngine(DefaultConfig(), Dependencies{Logger: discardLogger()})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	_, err = NewEngine(Config{DispatchWorkers: -1}, Dependencies{})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestEngine_StartFiresOnceWithoutTrigger(t *testing.T) {
	var triggers []sensor.State
	fx := newEngineFixture(t, func(_ context.Context, pc *ProcessingContext) (int, error) {
		triggers = append(triggers, pc.Trigger())
		return 1, nil
	}, rulesSource("a.yaml", "ok"))

	require.NoError(t, fx.engine.Start(context.Background(), nil))
	defer fx.engine.Stop(context.Background())

	require.Len(t, triggers, 1)
	assert.Nil(t, triggers[0])
	assert.Equal(t, StateRunning, fx.engine.State())
	assert.True(t, fx.engine.Healthy())
}

func TestEngine_BadSourceIsRemovedOthersKept(t *testing.T) {
	fx := newEngineFixture(t, nil,
		rulesSource("good-1.yaml", "ok"),
		rulesSource("broken.yaml", "bad"),
		rulesSource("good-2.yaml", "ok"),
	)

	require.NoError(t, fx.engine.Start(context.Background(), nil))
	defer fx.engine.Stop(context.Background())

	assert.Equal(t, []string{"good-1.yaml", "good-2.yaml"}, fx.builder.added)
	assert.Equal(t, []string{"broken.yaml"}, fx.builder.removed)
	assert.Equal(t, 2, fx.engine.Stats().Rules)
}

func TestEngine_PassThroughWithoutRules(t *testing.T) {
	fx := newEngineFixture(t, nil)

	require.NoError(t, fx.engine.Start(context.Background(), nil))
	defer fx.engine.Stop(context.Background())

	res := fx.engine.Process(context.Background(), sensor.NewSwitchState(1, "X", true, ""))
	assert.Equal(t, OutcomeNone, res.Outcome)
	assert.False(t, res.Terminated)
	assert.Zero(t, fx.session.fires)
	assert.True(t, fx.engine.Healthy())
}

func TestEngine_SessionCreationFailureRunsWithoutRules(t *testing.T) {
	fx := newEngineFixture(t, nil, rulesSource("a.yaml", "ok"))
	fx.builder.kb.err = fmt.Errorf("globals rejected")

	require.NoError(t, fx.engine.Start(context.Background(), nil))
	defer fx.engine.Stop(context.Background())

	res := fx.engine.Process(context.Background(), sensor.NewLevelState(1, "dimmer", 10))
	assert.Equal(t, OutcomeNone, res.Outcome)
}

func TestEngine_ProcessAppliesAndFires(t *testing.T) {
	fx := newEngineFixture(t, func(_ context.Context, pc *ProcessingContext) (int, error) {
		if pc.Trigger() == nil {
			return 0, nil
		}
		st, ok := pc.Lookup(pc.Trigger().SourceName())
		if !ok || !st.Equal(pc.Trigger()) {
			return 0, fmt.Errorf("trigger not in working memory")
		}
		return 1, nil
	}, rulesSource("a.yaml", "ok"))

	require.NoError(t, fx.engine.Start(context.Background(), nil))
	defer fx.engine.Stop(context.Background())

	ctx := context.Background()
	res := fx.engine.Process(ctx, sensor.NewLevelState(1, "dimmer", 10))
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeInserted, res.Outcome)
	assert.Equal(t, 1, res.Fired)

	res = fx.engine.Process(ctx, sensor.NewLevelState(1, "dimmer", 20))
	assert.Equal(t, OutcomeUpdated, res.Outcome)

	// A duplicate is not re-inserted but rules still fire
	res = fx.engine.Process(ctx, sensor.NewLevelState(1, "dimmer", 20))
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, 1, res.Fired)

	stats := fx.engine.Stats()
	assert.Equal(t, int64(3), stats.Processed)
	assert.Equal(t, int64(3), stats.Fired)
	assert.Equal(t, 1, stats.Facts)

	st, ok := fx.engine.Fact("dimmer")
	require.True(t, ok)
	assert.Equal(t, 20, st.(*sensor.LevelState).Int())
}

func TestEngine_FirePanicIsRecovered(t *testing.T) {
	fx := newEngineFixture(t, func(_ context.Context, pc *ProcessingContext) (int, error) {
		if pc.Trigger() != nil {
			panic("rule blew up")
		}
		return 0, nil
	}, rulesSource("a.yaml", "ok"))

	require.NoError(t, fx.engine.Start(context.Background(), nil))
	defer fx.engine.Stop(context.Background())

	var res Result
	require.NotPanics(t, func() {
		res = fx.engine.Process(context.Background(), sensor.NewSwitchState(1, "X", true, ""))
	})
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "rule blew up")
	assert.True(t, fx.engine.Healthy())
}

func TestEngine_TerminationReported(t *testing.T) {
	var replaced []sensor.State
	done := make(chan struct{}, 1)

	fx := newEngineFixture(t, func(_ context.Context, pc *ProcessingContext) (int, error) {
		if pc.Trigger() == nil || pc.Trigger().SourceName() != "X" {
			return 0, nil
		}
		pc.TerminateAndReplaceWith(sensor.NewSwitchState(2, "Y", true, ""))
		return 1, nil
	}, rulesSource("a.yaml", "ok"))
	fx.engine.SetReplaceHandler(func(_ context.Context, st sensor.State) {
		replaced = append(replaced, st)
		done <- struct{}{}
	})

	require.NoError(t, fx.engine.Start(context.Background(), nil))
	defer fx.engine.Stop(context.Background())

	res := fx.engine.Process(context.Background(), sensor.NewSwitchState(1, "X", true, ""))
	assert.True(t, res.Terminated)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement was not applied")
	}
	require.Len(t, replaced, 1)
	assert.Equal(t, "Y", replaced[0].SourceName())
}

func TestEngine_Lifecycle(t *testing.T) {
	fx := newEngineFixture(t, nil, rulesSource("a.yaml", "ok"))
	ctx := context.Background()

	// Stop before Start is a no-op
	require.NoError(t, fx.engine.Stop(ctx))

	res := fx.engine.Process(ctx, sensor.NewSwitchState(1, "X", true, ""))
	assert.Equal(t, OutcomeNone, res.Outcome, "not running")

	require.NoError(t, fx.engine.Start(ctx, nil))
	err := fx.engine.Start(ctx, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	require.NoError(t, fx.engine.Stop(ctx))
	require.NoError(t, fx.engine.Stop(ctx))
	assert.Equal(t, StateStopped, fx.engine.State())
	assert.True(t, fx.session.disposed)
	assert.False(t, fx.engine.Healthy())

	_, ok := fx.engine.Fact("X")
	assert.False(t, ok)
	assert.Nil(t, fx.engine.Process(ctx, nil).Err)
}

func TestEngine_StopHonoursContextDeadline(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	fx := newEngineFixture(t, func(_ context.Context, pc *ProcessingContext) (int, error) {
		if pc.Trigger() != nil {
			pc.TerminateAndReplaceWith(sensor.NewSwitchState(2, "Y", true, ""))
		}
		return 0, nil
	}, rulesSource("a.yaml", "ok"))
	fx.engine.SetReplaceHandler(func(context.Context, sensor.State) { <-block })

	require.NoError(t, fx.engine.Start(context.Background(), nil))
	fx.engine.Process(context.Background(), sensor.NewSwitchState(1, "X", true, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_ = fx.engine.Stop(ctx)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StateStopped, fx.engine.State())
}
