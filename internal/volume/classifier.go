package volume

import (
	"fmt"
	"math"
	"strings"
)

// Quintile buckets a day's volume relative to its trailing average.
// The zero value is Normal and the order of the constants is significant.
type Quintile int

const (
	Normal Quintile = iota
	High
	VeryHigh
	UltraHigh
)

var quintileNames = [...]string{"Normal", "High", "VeryHigh", "UltraHigh"}

func (q Quintile) String() string {
	if q < Normal || q > UltraHigh {
		return fmt.Sprintf("Quintile(%d)", int(q))
	}
	return quintileNames[q]
}

// ParseQuintile accepts the String() form, case-insensitively, plus a few
// spellings used in older database rows ("Very High", "ultra_high").
func ParseQuintile(s string) (Quintile, error) {
	norm := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s))
	for i, name := range quintileNames {
		if strings.ToLower(name) == norm {
			return Quintile(i), nil
		}
	}
	return Normal, fmt.Errorf("unknown quintile %q", s)
}

// Priority orders alerts and signals. Higher is more urgent.
type Priority int

const (
	PriorityMedium Priority = iota
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	default:
		return "medium"
	}
}

// Thresholds holds the relative-volume multiples that separate the quintiles.
// One value is loaded from config and handed to every component that
// classifies volume or derives a priority from it.
type Thresholds struct {
	High      float64 `yaml:"high" default:"2.0" validate:"gt=0"`
	VeryHigh  float64 `yaml:"very_high" default:"3.0" validate:"gt=0"`
	UltraHigh float64 `yaml:"ultra_high" default:"4.0" validate:"gt=0"`
	AvgWindow int     `yaml:"avg_window" default:"20" validate:"gte=1"`
}

// DefaultThresholds returns the 2x/3x/4x multiples over a 20-day average.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 2.0, VeryHigh: 3.0, UltraHigh: 4.0, AvgWindow: 20}
}

// Validate checks that the multiples are positive and strictly ascending.
func (t Thresholds) Validate() error {
	if t.High <= 0 || t.VeryHigh <= 0 || t.UltraHigh <= 0 {
		return fmt.Errorf("volume thresholds must be positive (high=%.2f very_high=%.2f ultra_high=%.2f)",
			t.High, t.VeryHigh, t.UltraHigh)
	}
	if !(t.High < t.VeryHigh && t.VeryHigh < t.UltraHigh) {
		return fmt.Errorf("volume thresholds must be ascending (high=%.2f very_high=%.2f ultra_high=%.2f)",
			t.High, t.VeryHigh, t.UltraHigh)
	}
	if t.AvgWindow < 1 {
		return fmt.Errorf("avg_window must be at least 1, got %d", t.AvgWindow)
	}
	return nil
}

// Classification is the result of classifying one bar
type Classification struct {
	Quintile       Quintile `json:"quintile"`
	RelativeVolume float64  `json:"relative_volume"`
}

// Classify labels volume against its trailing average. avgVolume must exclude
// the current day.
func (t Thresholds) Classify(volume int64, avgVolume float64) (Classification, error) {
	if math.IsNaN(avgVolume) || avgVolume <= 0 {
		return Classification{}, &InvalidInputError{Field: "average_volume", Value: avgVolume, Reason: "must be positive"}
	}
	if volume < 0 {
		return Classification{}, &InvalidInputError{Field: "volume", Value: float64(volume), Reason: "must not be negative"}
	}

	rel := float64(volume) / avgVolume
	return Classification{Quintile: t.QuintileFor(rel), RelativeVolume: rel}, nil
}

// QuintileFor maps a relative volume ratio to its bucket. Bands are checked
// from the top so a ratio equal to a threshold lands in the higher band.
func (t Thresholds) QuintileFor(rel float64) Quintile {
	switch {
	case rel >= t.UltraHigh:
		return UltraHigh
	case rel >= t.VeryHigh:
		return VeryHigh
	case rel >= t.High:
		return High
	default:
		return Normal
	}
}

// IsEvent reports whether a bar with this quintile becomes a volume event
func (t Thresholds) IsEvent(q Quintile) bool {
	return q >= High
}

// PriorityFor maps a quintile to the alert/signal priority.
func (t Thresholds) PriorityFor(q Quintile) Priority {
	switch q {
	case UltraHigh:
		return PriorityCritical
	case VeryHigh:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// Multiple returns the lower bound of q's band. Normal has no lower bound.
func (t Thresholds) Multiple(q Quintile) float64 {
	switch q {
	case UltraHigh:
		return t.UltraHigh
	case VeryHigh:
		return t.VeryHigh
	case High:
		return t.High
	default:
		return 0
	}
}

// MarshalText renders the quintile name in JSON and YAML
func (q Quintile) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText accepts anything ParseQuintile does
func (q *Quintile) UnmarshalText(b []byte) error {
	v, err := ParseQuintile(string(b))
	if err != nil {
		return err
	}
	*q = v
	return nil
}

// MarshalText renders the priority name in JSON
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
