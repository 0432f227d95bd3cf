// Package protocol holds what polling and push protocols share: connection
// status, the collaborator interfaces they consume, and per-cycle grouping of
// linked attributes by a derived key.
//
// A protocol never writes attributes directly. Resolved values go to an
// AttributeUpdateSink, which owns sensor validation, rule processing and
// commit. Failures inside the sink are not the protocol's concern.
package protocol

import (
	"context"

	"github.com/c360/assetflow/asset"
)

// Protocol is a startable agent that writes attribute values.
type Protocol interface {
	ID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() Status
}

// AssetLookup loads assets by id.
type AssetLookup interface {
	FindAssetByID(ctx context.Context, id string) (*asset.Asset, bool)
}

// AttributeUpdateSink receives resolved attribute values. Update is
// fire-and-forget.
type AttributeUpdateSink interface {
	UpdateAttribute(ctx context.Context, ref asset.AttributeRef, value any)
}

// AttributeUpdateFunc adapts a function to AttributeUpdateSink.
type AttributeUpdateFunc func(ctx context.Context, ref asset.AttributeRef, value any)

func (f AttributeUpdateFunc) UpdateAttribute(ctx context.Context, ref asset.AttributeRef, value any) {
	f(ctx, ref, value)
}

// LinkedAttributeEnumerator snapshots the attributes linked to one protocol
// instance.
type LinkedAttributeEnumerator interface {
	LinkedAttributes(protocolID string) map[asset.AttributeRef]asset.Attribute
}
