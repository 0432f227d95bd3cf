package weather

import (
	"fmt"
	"sort"
)

// Field names a scalar in the "current" entry of a weather response.
type Field string

const (
	FieldTemperature   Field = "temperature"
	FieldFeelsLike     Field = "feels_like"
	FieldPressure      Field = "pressure"
	FieldHumidity      Field = "humidity"
	FieldDewPoint      Field = "dew_point"
	FieldClouds        Field = "clouds"
	FieldUVIndex       Field = "uv_index"
	FieldVisibility    Field = "visibility"
	FieldWindSpeed     Field = "wind_speed"
	FieldWindDirection Field = "wind_direction"
	FieldWindGust      Field = "wind_gust"
)

// Current is the "current" entry of a weather response. Absent values are nil.
type Current struct {
	Dt         int64    `json:"dt"`
	Temp       *float64 `json:"temp"`
	FeelsLike  *float64 `json:"feels_like"`
	Pressure   *int     `json:"pressure"`
	Humidity   *int     `json:"humidity"`
	DewPoint   *float64 `json:"dew_point"`
	Clouds     *int     `json:"clouds"`
	UVI        *float64 `json:"uvi"`
	Visibility *int     `json:"visibility"`
	WindSpeed  *float64 `json:"wind_speed"`
	WindDeg    *int     `json:"wind_deg"`
	WindGust   *float64 `json:"wind_gust"`
}

// Response is the subset of the weather API payload the protocol reads.
type Response struct {
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	Timezone string   `json:"timezone"`
	Current  *Current `json:"current"`
}

var accessors = map[Field]func(*Current) any{
	FieldTemperature:   func(c *Current) any { return deref(c.Temp) },
	FieldFeelsLike:     func(c *Current) any { return deref(c.FeelsLike) },
	FieldPressure:      func(c *Current) any { return deref(c.Pressure) },
	FieldHumidity:      func(c *Current) any { return deref(c.Humidity) },
	FieldDewPoint:      func(c *Current) any { return deref(c.DewPoint) },
	FieldClouds:        func(c *Current) any { return deref(c.Clouds) },
	FieldUVIndex:       func(c *Current) any { return deref(c.UVI) },
	FieldVisibility:    func(c *Current) any { return deref(c.Visibility) },
	FieldWindSpeed:     func(c *Current) any { return deref(c.WindSpeed) },
	FieldWindDirection: func(c *Current) any { return deref(c.WindDeg) },
	FieldWindGust:      func(c *Current) any { return deref(c.WindGust) },
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// Fields returns every declared field, sorted.
func Fields() []Field {
	out := make([]Field, 0, len(accessors))
	for f := range accessors {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseField validates a field selector.
func ParseField(s string) (Field, error) {
	f := Field(s)
	if _, ok := accessors[f]; !ok {
		return "", fmt.Errorf("unknown weather field %q", s)
	}
	return f, nil
}

// Extract reads field from c. An unknown field, a nil entry or an absent
// value yields nil.
func Extract(c *Current, field Field) any {
	if c == nil {
		return nil
	}
	get, ok := accessors[field]
	if !ok {
		return nil
	}
	return get(c)
}
