package expression

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/c360/assetflow/errors"
	"github.com/c360/assetflow/processor/rule"
	trule "github.com/c360/assetflow/types/rule"
)

var _ rule.Builder = (*Builder)(nil)

// compiledRule is a rule ready to be matched by a session.
type compiledRule struct {
	id       string
	name     string
	salience int
	source   string
	when     LogicalExpression
	sensors  []string
	actions  []action
}

// Builder compiles rule documents into a KnowledgeBase.
type Builder struct {
	evaluator *Evaluator
	logger    *slog.Logger

	order   []string
	sources map[string][]*compiledRule
	ids     map[string]string // rule id -> source path
}

// NewBuilder creates an empty builder.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		evaluator: NewExpressionEvaluator(),
		logger:    logger.With("component", "rule-compiler"),
		sources:   make(map[string][]*compiledRule),
		ids:       make(map[string]string),
	}
}

// NewBuilderFactory returns a factory producing a fresh Builder per engine start.
func NewBuilderFactory(logger *slog.Logger) rule.BuilderFactory {
	return func() rule.Builder {
		return NewBuilder(logger)
	}
}

// Add compiles src. On error nothing from src is kept.
func (b *Builder) Add(src trule.RuleSource) error {
	if _, exists := b.sources[src.Path]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: source %s already added", errors.ErrCompileFailed, src.Path),
			"Builder", "Add", "register source")
	}

	doc, err := ParseDocument(src)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(doc.Rules))
	compiled := make([]*compiledRule, 0, len(doc.Rules))
	for _, def := range doc.Rules {
		if prev, dup := b.ids[def.ID]; dup || seen[def.ID] {
			if !dup {
				prev = src.Path
			}
			return errors.WrapInvalid(fmt.Errorf("%w: duplicate rule id %q (first defined in %s)", errors.ErrCompileFailed, def.ID, prev),
				"Builder", "Add", "compile "+src.Path)
		}
		seen[def.ID] = true

		if !def.IsEnabled() {
			b.logger.Info("Rule disabled, skipping", "rule", def.ID, "source", src.Path)
			continue
		}

		cr, err := b.compileRule(src.Path, def)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: rule %q: %v", errors.ErrCompileFailed, def.ID, err),
				"Builder", "Add", "compile "+src.Path)
		}
		compiled = append(compiled, cr)
	}

	b.order = append(b.order, src.Path)
	b.sources[src.Path] = compiled
	for id := range seen {
		b.ids[id] = src.Path
	}
	b.logger.Debug("Rule source compiled", "source", src.Path, "rules", len(compiled))
	return nil
}

// Remove drops everything compiled from path.
func (b *Builder) Remove(path string) {
	if _, ok := b.sources[path]; !ok {
		return
	}
	delete(b.sources, path)
	for id, p := range b.ids {
		if p == path {
			delete(b.ids, id)
		}
	}
	for i, p := range b.order {
		if p == path {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Build links every added source into a knowledge base. Rules are ordered by
// descending salience, then by source and document order.
func (b *Builder) Build() (rule.KnowledgeBase, error) {
	if len(b.order) == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: no rule sources", errors.ErrCompileFailed),
			"Builder", "Build", "link knowledge base")
	}

	var rules []*compiledRule
	for _, path := range b.order {
		rules = append(rules, b.sources[path]...)
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].salience > rules[j].salience
	})

	return &KnowledgeBase{
		rules:     rules,
		evaluator: b.evaluator,
		logger:    b.logger,
	}, nil
}

func (b *Builder) compileRule(source string, def RuleDefinition) (*compiledRule, error) {
	when := def.When
	for i := range when.Conditions {
		c := &when.Conditions[i]
		if c.Sensor == "" {
			return nil, fmt.Errorf("condition %d has no sensor", i)
		}
		if c.Field == "" {
			c.Field = FieldValue
		}
		if !knownFields[c.Field] {
			return nil, fmt.Errorf("condition %d: unknown field %q", i, c.Field)
		}
		if !b.evaluator.Supports(c.Operator) {
			return nil, fmt.Errorf("condition %d: unsupported operator %q", i, c.Operator)
		}
		if c.Operator == OpRegexMatch {
			pattern, ok := c.Value.(string)
			if !ok {
				return nil, fmt.Errorf("condition %d: regex pattern must be a string", i)
			}
			if _, err := compileRegex(pattern); err != nil {
				return nil, fmt.Errorf("condition %d: %w", i, err)
			}
		}
	}
	switch when.Logic {
	case "", LogicAnd, LogicOr:
	default:
		return nil, fmt.Errorf("unsupported logic %q", when.Logic)
	}

	if len(def.Then) == 0 {
		return nil, fmt.Errorf("rule has no actions")
	}
	actions := make([]action, 0, len(def.Then))
	for i, ad := range def.Then {
		a, err := compileAction(def.ID, ad)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, a)
	}

	name := def.Name
	if name == "" {
		name = def.ID
	}
	return &compiledRule{
		id:       def.ID,
		name:     name,
		salience: def.Salience,
		source:   source,
		when:     when,
		sensors:  when.Sensors(),
		actions:  actions,
	}, nil
}
