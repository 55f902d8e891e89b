package ingest

import (
	"sync"
	"time"

	"github.com/vlad-oles/gears/pkg/rollup"
	"github.com/vlad-oles/gears/pkg/sample"
)

// CardinalityTracker tracks unique series (grouping-key combinations) and
// distinct variable names to enforce cardinality limits.
// Periodically clears series not seen recently to bound memory in
// long-running servers.
type CardinalityTracker struct {
	mu sync.RWMutex

	// keyCols defines which sample keys form the series identity.
	keyCols []string

	// seriesSeen maps series key -> last seen timestamp.
	seriesSeen map[string]time.Time

	// varsSeen tracks distinct variable names.
	varsSeen map[string]bool

	lastCleanup time.Time
}

const (
	// Clean up series not seen in the last 24 hours.
	seriesRetentionPeriod = 24 * time.Hour

	// Run cleanup at most once an hour.
	cleanupInterval = 1 * time.Hour
)

// NewCardinalityTracker creates a tracker for the configured grouping keys.
func NewCardinalityTracker(keyCols []string) *CardinalityTracker {
	return &CardinalityTracker{
		keyCols:     keyCols,
		seriesSeen:  make(map[string]time.Time),
		varsSeen:    make(map[string]bool),
		lastCleanup: time.Now(),
	}
}

// Check validates that admitting this sample won't exceed cardinality
// limits. Returns an error if it would.
func (c *CardinalityTracker) Check(s sample.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupOldSeriesLocked()

	key := rollup.SeriesKey(c.keyCols, s.Keys)
	if _, exists := c.seriesSeen[key]; !exists && len(c.seriesSeen) >= MaxUniqueSeries {
		return ErrCardinalityLimit
	}

	newVars := 0
	for name := range s.Values {
		if !c.varsSeen[name] {
			newVars++
		}
	}
	if len(c.varsSeen)+newVars > MaxUniqueVariables {
		return ErrVariableLimit
	}
	return nil
}

// Record marks a sample's series and variables as seen. Call after Check
// passes and the sample is accepted.
func (c *CardinalityTracker) Record(s sample.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seriesSeen[rollup.SeriesKey(c.keyCols, s.Keys)] = time.Now()
	for name := range s.Values {
		c.varsSeen[name] = true
	}
}

// cleanupOldSeriesLocked removes series not seen in seriesRetentionPeriod.
// Must be called with the lock held.
func (c *CardinalityTracker) cleanupOldSeriesLocked() {
	now := time.Now()
	if now.Sub(c.lastCleanup) < cleanupInterval {
		return
	}
	c.lastCleanup = now
	cutoff := now.Add(-seriesRetentionPeriod)

	for key, lastSeen := range c.seriesSeen {
		if lastSeen.Before(cutoff) {
			delete(c.seriesSeen, key)
		}
	}
	// Variable names are few and stable; they are not aged out.
}

// CardinalityStats provides cardinality usage information.
type CardinalityStats struct {
	TotalSeries     int     `json:"total_series"`
	UniqueVariables int     `json:"unique_variables"`
	SeriesLimit     int     `json:"series_limit"`
	VariableLimit   int     `json:"variable_limit"`
	UtilizationPct  float64 `json:"utilization_percent"`
}

// Stats returns current cardinality statistics.
func (c *CardinalityTracker) Stats() CardinalityStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CardinalityStats{
		TotalSeries:     len(c.seriesSeen),
		UniqueVariables: len(c.varsSeen),
		SeriesLimit:     MaxUniqueSeries,
		VariableLimit:   MaxUniqueVariables,
		UtilizationPct:  float64(len(c.seriesSeen)) / float64(MaxUniqueSeries) * 100,
	}
}
