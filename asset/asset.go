// Package asset holds the asset and attribute model consumed by protocols and
// the event pipeline, plus an in-memory Registry implementing the lookup,
// enumeration and write paths they depend on.
package asset

import (
	"fmt"
	"strconv"
	"time"
)

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Key formats the point as "lat,lon" with the shortest exact decimal form.
func (p GeoPoint) Key() string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lon, 'f', -1, 64)
}

// AttributeRef addresses one attribute of one asset.
type AttributeRef struct {
	AssetID string `json:"asset_id"`
	Name    string `json:"name"`
}

func (r AttributeRef) String() string {
	return r.AssetID + ":" + r.Name
}

// Less orders refs by asset id, then attribute name.
func (r AttributeRef) Less(o AttributeRef) bool {
	if r.AssetID != o.AssetID {
		return r.AssetID < o.AssetID
	}
	return r.Name < o.Name
}

// AgentLink connects an attribute to a protocol instance.
type AgentLink struct {
	// ProtocolID is the protocol instance that writes this attribute.
	ProtocolID string `json:"protocol_id"`
	// Field selects the value within the protocol's response.
	Field string `json:"field,omitempty"`
	// Topic is the push topic for push-capable protocols.
	Topic string `json:"topic,omitempty"`
}

// Attribute is a named, timestamped value on an asset.
type Attribute struct {
	Name      string     `json:"name"`
	Value     any        `json:"value,omitempty"`
	Timestamp time.Time  `json:"timestamp,omitempty"`
	Link      *AgentLink `json:"link,omitempty"`
	// Sensor names the sensor that validates raw values for this attribute.
	Sensor string `json:"sensor,omitempty"`
}

// Asset is a physical or virtual thing with attributes.
type Asset struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	Type       string                `json:"type,omitempty"`
	Location   *GeoPoint             `json:"location,omitempty"`
	Attributes map[string]*Attribute `json:"attributes,omitempty"`
}

// Validate checks identity fields and attribute names.
func (a *Asset) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("asset has no id")
	}
	for name, attr := range a.Attributes {
		if attr == nil {
			return fmt.Errorf("asset %s: attribute %q is nil", a.ID, name)
		}
		if attr.Name != "" && attr.Name != name {
			return fmt.Errorf("asset %s: attribute key %q does not match name %q", a.ID, name, attr.Name)
		}
		if attr.Link != nil && attr.Link.ProtocolID == "" {
			return fmt.Errorf("asset %s: attribute %q link has no protocol id", a.ID, name)
		}
	}
	return nil
}

func (a *Asset) clone() *Asset {
	out := *a
	if a.Location != nil {
		loc := *a.Location
		out.Location = &loc
	}
	out.Attributes = make(map[string]*Attribute, len(a.Attributes))
	for name, attr := range a.Attributes {
		c := attr.clone()
		out.Attributes[name] = &c
	}
	return &out
}

func (a Attribute) clone() Attribute {
	if a.Link != nil {
		link := *a.Link
		a.Link = &link
	}
	return a
}

// Event describes a committed attribute value.
type Event struct {
	Ref       AttributeRef `json:"ref"`
	Value     any          `json:"value"`
	Previous  any          `json:"previous,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
