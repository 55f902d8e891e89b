package sample

import (
	"fmt"
	"math"
	"time"
)

// Sample represents a single raw measurement: a timestamp, zero or more
// grouping-key values (e.g. a device identifier), and one or more named
// numeric variables observed at that instant.
//
// Values are float64 end to end so that downstream sum-of-squares math
// cannot overflow the way narrow integer columns would.
type Sample struct {
	Timestamp time.Time          `json:"timestamp"`
	Keys      map[string]string  `json:"keys,omitempty"`
	Values    map[string]float64 `json:"values"`
}

// Key returns the value of the named grouping key, or "" if the sample
// does not carry it.
func (s Sample) Key(name string) string {
	if s.Keys == nil {
		return ""
	}
	return s.Keys[name]
}

// Validate checks that a sample is well-formed enough to aggregate:
// a real timestamp, at least one variable, and finite values.
func (s Sample) Validate() error {
	if s.Timestamp.IsZero() {
		return fmt.Errorf("sample timestamp cannot be zero")
	}
	if len(s.Values) == 0 {
		return fmt.Errorf("sample carries no variables")
	}
	for name, v := range s.Values {
		if name == "" {
			return fmt.Errorf("variable name cannot be empty")
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("variable %q has non-finite value", name)
		}
	}
	return nil
}
