package rollup

import (
	"encoding/json"
	"math"
)

// Stats holds the five sufficient statistics for one variable in one time
// bucket. From these, mean and standard deviation can be derived exactly,
// and any set of buckets can be merged into a coarser bucket without
// revisiting raw data.
//
// SumSqDiff is the corrected sum of squares: the sum of squared differences
// from this bucket's own mean. It is NOT additive across buckets on its own;
// Merge applies the cross-bucket correction (Chan et al.'s parallel variance
// combination) so that the merged value is again relative to the merged mean.
type Stats struct {
	Count     uint64  `json:"count"`
	Sum       float64 `json:"sum"`
	SumSqDiff float64 `json:"sum_sq_diff"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
}

// Observe folds one raw value into the statistics using Welford's update,
// which keeps SumSqDiff numerically stable for long streams.
// A bucket holding a single sample has SumSqDiff == 0 exactly.
func (s *Stats) Observe(v float64) {
	s.Count++
	if s.Count == 1 {
		s.Sum = v
		s.SumSqDiff = 0
		s.Min = v
		s.Max = v
		return
	}
	oldMean := s.Sum / float64(s.Count-1)
	s.Sum += v
	newMean := s.Sum / float64(s.Count)
	s.SumSqDiff += (v - oldMean) * (v - newMean)
	if v < s.Min {
		s.Min = v
	}
	if v > s.Max {
		s.Max = v
	}
}

// Mean returns the bucket's own mean. NaN for an empty Stats.
func (s Stats) Mean() float64 {
	if s.Count == 0 {
		return math.NaN()
	}
	return s.Sum / float64(s.Count)
}

// Merge combines two buckets' statistics into the statistics of the union
// of their samples. Count, Sum, Min and Max combine pointwise; SumSqDiff
// combines with Chan's correction term
//
//	ssd = ssdA + ssdB + delta^2 * nA*nB/(nA+nB)
//
// where delta is the difference of the two bucket means. An empty side is
// the merge identity, so no division by zero can occur.
//
// Merge is commutative, and associative up to floating-point summation
// order: merging buckets pairwise in any order yields the statistics of
// the combined sample set.
func (s Stats) Merge(o Stats) Stats {
	if s.Count == 0 {
		return o
	}
	if o.Count == 0 {
		return s
	}
	n := s.Count + o.Count
	delta := o.Sum/float64(o.Count) - s.Sum/float64(s.Count)
	merged := Stats{
		Count:     n,
		Sum:       s.Sum + o.Sum,
		SumSqDiff: s.SumSqDiff + o.SumSqDiff + delta*delta*float64(s.Count)*float64(o.Count)/float64(n),
		Min:       math.Min(s.Min, o.Min),
		Max:       math.Max(s.Max, o.Max),
	}
	return merged
}

// FinalStats are the terminal, human-facing statistics derived from Stats.
// They discard the sufficient statistics (Sum, SumSqDiff), so they cannot
// be merged any further.
type FinalStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Final derives the display statistics. Std is the Bessel-corrected sample
// standard deviation sqrt(SumSqDiff/(Count-1)). For a single-sample bucket
// it is mathematically undefined and surfaces as NaN, deliberately not
// coerced to zero.
func (s Stats) Final() FinalStats {
	f := FinalStats{
		Mean: s.Mean(),
		Std:  math.NaN(),
		Min:  s.Min,
		Max:  s.Max,
	}
	if s.Count > 1 {
		f.Std = math.Sqrt(s.SumSqDiff / float64(s.Count-1))
	}
	return f
}

// finalStatsJSON mirrors FinalStats with pointer fields so that NaN
// (undefined std for count==1) can cross the JSON boundary as null.
type finalStatsJSON struct {
	Mean *float64 `json:"mean"`
	Std  *float64 `json:"std"`
	Min  *float64 `json:"min"`
	Max  *float64 `json:"max"`
}

// MarshalJSON encodes NaN fields as null; encoding/json rejects NaN outright.
func (f FinalStats) MarshalJSON() ([]byte, error) {
	enc := finalStatsJSON{
		Mean: jsonFloat(f.Mean),
		Std:  jsonFloat(f.Std),
		Min:  jsonFloat(f.Min),
		Max:  jsonFloat(f.Max),
	}
	return json.Marshal(enc)
}

// UnmarshalJSON restores null fields as NaN.
func (f *FinalStats) UnmarshalJSON(data []byte) error {
	var dec finalStatsJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	f.Mean = jsonFloatValue(dec.Mean)
	f.Std = jsonFloatValue(dec.Std)
	f.Min = jsonFloatValue(dec.Min)
	f.Max = jsonFloatValue(dec.Max)
	return nil
}

func jsonFloat(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func jsonFloatValue(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}
