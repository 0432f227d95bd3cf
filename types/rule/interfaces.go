// Package rule defines the contract between the rule engine and a pluggable
// rule technology. The engine treats the technology as an opaque match/fire
// oracle: it inserts and retracts facts, asks the session to fire, and never
// looks inside compiled rules.
//
// The contract is generic over the globals G bound at session creation and
// the per-dispatch context C handed to FireAll, so the technology can stay
// fully typed without this package depending on the engine.
package rule

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/c360/assetflow/sensor"
)

// FactHandle is an opaque reference to an inserted fact.
type FactHandle interface {
	ID() uint64
}

// Session is a single-owner working memory plus agenda. It is not safe for
// concurrent use.
type Session[C any] interface {
	Insert(fact sensor.State) FactHandle
	Retract(h FactHandle) error
	// Contains reports whether an equal fact is present.
	Contains(fact sensor.State) bool
	Facts() []sensor.State
	// FireAll runs every activation currently on the agenda and returns the
	// number of rules fired.
	FireAll(ctx context.Context, dispatch C) (int, error)
	Dispose()
}

// KnowledgeBase is a compiled set of rules.
type KnowledgeBase[G, C any] interface {
	NewSession(globals G) (Session[C], error)
	Rules() []string
}

// Builder compiles rule sources. A source that fails to compile is rejected
// by Add without affecting sources already added.
type Builder[G, C any] interface {
	Add(src RuleSource) error
	Remove(path string)
	Build() (KnowledgeBase[G, C], error)
}

// SourceKind is the authoring format of a rule source.
type SourceKind string

const (
	SourceJSON SourceKind = "json"
	SourceYAML SourceKind = "yaml"
)

// KindForPath derives the source kind from a file extension.
func KindForPath(path string) (SourceKind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return SourceJSON, nil
	case ".yaml", ".yml":
		return SourceYAML, nil
	default:
		return "", fmt.Errorf("unsupported rule source extension %q", filepath.Ext(path))
	}
}

// RuleSource is one unit of rule text.
type RuleSource struct {
	Path    string
	Content []byte
	Kind    SourceKind
}

// RuleSourceProvider enumerates the rule sources to compile. An empty result
// is valid and leaves the engine in pass-through mode.
type RuleSourceProvider interface {
	Resources(ctx context.Context) ([]RuleSource, error)
}
