package ingest

import (
	"fmt"
	"math"

	"github.com/vlad-oles/gears/pkg/sample"
)

// Validation limits
const (
	// Per-sample limits
	MaxKeysPerSample   = 20   // Maximum grouping keys per sample
	MaxVarsPerSample   = 50   // Maximum variables per sample
	MaxKeyNameLength   = 256  // Maximum grouping-key name length
	MaxKeyValueLength  = 1024 // Maximum grouping-key value length
	MaxVarNameLength   = 256  // Maximum variable name length

	// Global limits
	MaxUniqueSeries      = 100000 // Maximum unique series (grouping-key combinations)
	MaxUniqueVariables   = 1000   // Maximum distinct variable names
	MaxSamplesPerRequest = 1000   // Maximum samples in a single ingest request
)

var (
	// ErrTooManyKeys is returned when a sample has too many grouping keys
	ErrTooManyKeys = fmt.Errorf("too many grouping keys (max %d)", MaxKeysPerSample)

	// ErrTooManyVars is returned when a sample has too many variables
	ErrTooManyVars = fmt.Errorf("too many variables (max %d)", MaxVarsPerSample)

	// ErrKeyNameTooLong is returned when a grouping-key name is too long
	ErrKeyNameTooLong = fmt.Errorf("grouping-key name too long (max %d chars)", MaxKeyNameLength)

	// ErrKeyValueTooLong is returned when a grouping-key value is too long
	ErrKeyValueTooLong = fmt.Errorf("grouping-key value too long (max %d chars)", MaxKeyValueLength)

	// ErrVarNameTooLong is returned when a variable name is too long
	ErrVarNameTooLong = fmt.Errorf("variable name too long (max %d chars)", MaxVarNameLength)

	// ErrValueNotFinite is returned when a variable carries NaN or Inf
	ErrValueNotFinite = fmt.Errorf("variable value must be finite")

	// ErrCardinalityLimit is returned when the total series limit is exceeded
	ErrCardinalityLimit = fmt.Errorf("cardinality limit exceeded (max %d unique series)", MaxUniqueSeries)

	// ErrVariableLimit is returned when the distinct-variable limit is exceeded
	ErrVariableLimit = fmt.Errorf("variable limit exceeded (max %d distinct variables)", MaxUniqueVariables)

	// ErrTooManySamples is returned when an ingest request is too large
	ErrTooManySamples = fmt.Errorf("too many samples in request (max %d)", MaxSamplesPerRequest)
)

// ValidateSample validates a sample against the ingest limits.
func ValidateSample(s sample.Sample) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if len(s.Keys) > MaxKeysPerSample {
		return fmt.Errorf("%w: sample has %d keys", ErrTooManyKeys, len(s.Keys))
	}
	if len(s.Values) > MaxVarsPerSample {
		return fmt.Errorf("%w: sample has %d variables", ErrTooManyVars, len(s.Values))
	}
	for k, v := range s.Keys {
		if len(k) > MaxKeyNameLength {
			return fmt.Errorf("%w: key %q", ErrKeyNameTooLong, k)
		}
		if len(v) > MaxKeyValueLength {
			return fmt.Errorf("%w: value for key %q", ErrKeyValueTooLong, k)
		}
	}
	for name, v := range s.Values {
		if len(name) > MaxVarNameLength {
			return fmt.Errorf("%w: variable %q", ErrVarNameTooLong, name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: variable %q", ErrValueNotFinite, name)
		}
	}
	return nil
}
