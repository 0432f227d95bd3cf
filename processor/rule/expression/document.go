package expression

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/assetflow/errors"
	trule "github.com/c360/assetflow/types/rule"
)

//go:embed schema.json
var schemaJSON []byte

var documentSchema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded rule schema: %v", err))
	}
	return s
}()

// Document is one rule source file.
type Document struct {
	Rules []RuleDefinition `json:"rules" yaml:"rules"`
}

// RuleDefinition is a single declarative rule.
type RuleDefinition struct {
	ID          string             `json:"id" yaml:"id"`
	Name        string             `json:"name,omitempty" yaml:"name,omitempty"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     *bool              `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Salience    int                `json:"salience,omitempty" yaml:"salience,omitempty"`
	When        LogicalExpression  `json:"when" yaml:"when"`
	Then        []ActionDefinition `json:"then" yaml:"then"`
}

// IsEnabled reports whether the rule should be compiled. Rules are enabled
// unless explicitly disabled.
func (r RuleDefinition) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// ActionDefinition is one step of a rule's consequence.
type ActionDefinition struct {
	Type      string `json:"type" yaml:"type"`
	Target    string `json:"target,omitempty" yaml:"target,omitempty"`
	Op        string `json:"op,omitempty" yaml:"op,omitempty"`
	Value     any    `json:"value,omitempty" yaml:"value,omitempty"`
	ValueFrom string `json:"value_from,omitempty" yaml:"value_from,omitempty"`
	Message   string `json:"message,omitempty" yaml:"message,omitempty"`
	Level     string `json:"level,omitempty" yaml:"level,omitempty"`
	// Format "json" makes command arguments and log entries carry JSON
	// encoded states.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
	// Scale is the [low, high] input range a range or level value is mapped
	// from onto the target's own bounds.
	Scale []int `json:"scale,omitempty" yaml:"scale,omitempty"`
}

// ParseDocument decodes and schema-validates a rule source.
func ParseDocument(src trule.RuleSource) (*Document, error) {
	var raw any
	switch src.Kind {
	case trule.SourceJSON:
		if err := json.Unmarshal(src.Content, &raw); err != nil {
			return nil, parseError(src, err)
		}
	case trule.SourceYAML:
		if err := yaml.Unmarshal(src.Content, &raw); err != nil {
			return nil, parseError(src, err)
		}
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: unsupported source kind %q", errors.ErrCompileFailed, src.Kind),
			"expression", "ParseDocument", "detect kind of "+src.Path)
	}

	result, err := documentSchema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, parseError(src, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrCompileFailed, strings.Join(msgs, "; ")),
			"expression", "ParseDocument", "validate "+src.Path)
	}

	var doc Document
	switch src.Kind {
	case trule.SourceJSON:
		err = json.Unmarshal(src.Content, &doc)
	default:
		err = yaml.Unmarshal(src.Content, &doc)
	}
	if err != nil {
		return nil, parseError(src, err)
	}
	return &doc, nil
}

func parseError(src trule.RuleSource, err error) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrCompileFailed, err),
		"expression", "ParseDocument", "parse "+src.Path)
}
