// Package rule runs sensor states through a pluggable rule technology.
//
// # Overview
//
// The Engine keeps one live fact per sensor in the session of a compiled
// knowledge base. Each incoming state is applied to that working memory and
// every rule whose conditions now hold is fired. Rules act through the
// Globals bound to the session:
//   - Switches, Ranges, Levels, Customs: read a sensor and replace its state
//   - Commands: issue named outbound commands
//   - Persistence: store a state for later analysis
//   - Util, JSON, Logger: helpers
//
// # Processing context
//
// Every call to Process creates a ProcessingContext that is handed to each
// facade call. It carries the dispatch id, the triggering state and the
// termination flag. When a rule replaces the triggering state the dispatch
// is terminated and Result.Terminated is set; the caller must then drop the
// original state. The replacement itself is applied asynchronously through
// the Dispatcher and re-enters the engine as a fresh Process call.
//
// # Rule technology
//
// The engine only sees the generic contract in types/rule: a Builder that
// compiles RuleSources, a KnowledgeBase that opens Sessions, and a Session
// that inserts, retracts and fires. A source that fails to compile is
// dropped and the rest still load. With no usable rules the engine runs in
// pass-through mode and every Result is empty.
//
// # Usage
//
//	engine, err := rule.NewEngine(rule.DefaultConfig(), rule.Dependencies{
//	    Logger:   logger,
//	    Sensors:  sensors,
//	    Sources:  rule.NewFileSourceProvider([]string{"rules"}, logger),
//	    Builders: expression.NewBuilderFactory(logger),
//	})
//	if err != nil {
//	    return err
//	}
//	if err := engine.Start(ctx, commands); err != nil {
//	    return err
//	}
//	defer engine.Stop(ctx)
//
//	res := engine.Process(ctx, state)
//	if !res.Terminated {
//	    publish(state)
//	}
//
// # Concurrency
//
// Process calls are serialized. Replacements and commands run on the
// Dispatcher's worker pool and may complete in any order.
package rule
