package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/c360/assetflow/asset"
)

// Grouping is the set of attributes served by one external call.
type Grouping[D any] struct {
	Key string
	// Determinant is what the external call is keyed by, e.g. a coordinate.
	Determinant D
	// Refs is sorted.
	Refs []asset.AttributeRef
}

// Groups maps a grouping key to its grouping. It is built fresh for each
// cycle and never shared between cycles.
type Groups[D any] map[string]*Grouping[D]

// Keys returns the grouping keys, sorted.
func (g Groups[D]) Keys() []string {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Refs returns the number of attributes across all groups.
func (g Groups[D]) Refs() int {
	n := 0
	for _, grp := range g {
		n += len(grp.Refs)
	}
	return n
}

// Resolver derives the determinant and grouping key for one attribute. An
// error excludes the attribute from this cycle.
type Resolver[D any] func(ctx context.Context, ref asset.AttributeRef, attr asset.Attribute) (D, string, error)

// Group partitions attrs by the key resolve derives. Excluded attributes are
// logged with their ref and the cause.
func Group[D any](ctx context.Context, attrs map[asset.AttributeRef]asset.Attribute, resolve Resolver[D], logger *slog.Logger) Groups[D] {
	if logger == nil {
		logger = slog.Default()
	}

	refs := make([]asset.AttributeRef, 0, len(attrs))
	for ref := range attrs {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })

	groups := make(Groups[D])
	for _, ref := range refs {
		det, key, err := resolve(ctx, ref, attrs[ref])
		if err != nil {
			logger.Warn("Attribute excluded from poll cycle", "attribute", ref.String(), "error", err)
			continue
		}
		grp, ok := groups[key]
		if !ok {
			grp = &Grouping[D]{Key: key, Determinant: det}
			groups[key] = grp
		}
		grp.Refs = append(grp.Refs, ref)
	}
	return groups
}

// ByLocation resolves an attribute to the location of its owning asset,
// keyed "lat,lon". Assets that are missing or have no location are errors.
func ByLocation(lookup AssetLookup) Resolver[asset.GeoPoint] {
	return func(ctx context.Context, ref asset.AttributeRef, _ asset.Attribute) (asset.GeoPoint, string, error) {
		a, ok := lookup.FindAssetByID(ctx, ref.AssetID)
		if !ok {
			return asset.GeoPoint{}, "", fmt.Errorf("asset %s not found", ref.AssetID)
		}
		if a.Location == nil {
			return asset.GeoPoint{}, "", fmt.Errorf("asset %s has no location", ref.AssetID)
		}
		return *a.Location, a.Location.Key(), nil
	}
}
