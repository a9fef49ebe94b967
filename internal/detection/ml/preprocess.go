package ml

import (
	"errors"
	"fmt"
	"math"
)

// FeatureVector is a positional flow feature vector as produced by the flow
// extractor. Slot meanings are fixed by the Idx* constants below.
type FeatureVector []float64

// Feature slots the pipeline reads by position. The extractor's column order is
// an implicit contract: if it changes, these indices silently point at the wrong
// values.
const (
	IdxFlowDuration    = 0  // microseconds
	IdxFwdPackets      = 1  // total forward packets
	IdxBwdPackets      = 2  // total backward packets
	IdxFlowBytesRate   = 4  // flow bytes/s
	IdxFlowPacketsRate = 5  // flow packets/s
	IdxIdleMean        = 7  // idle time mean
	IdxTotalFwdLength  = 11 // total forward packet length
)

// DerivedFeatureCount is the number of ratios appended to a legacy vector.
const DerivedFeatureCount = 3

// ErrFeatureCountMismatch is matched by every *FeatureCountMismatchError.
var ErrFeatureCountMismatch = errors.New("feature count mismatch")

// FeatureCountMismatchError reports an input vector whose length is neither the
// full nor the legacy form.
type FeatureCountMismatchError struct {
	Expected int
	Got      int
}

func (e *FeatureCountMismatchError) Error() string {
	return fmt.Sprintf("feature count mismatch: expected %d, got %d", e.Expected, e.Got)
}

// Is makes errors.Is(err, ErrFeatureCountMismatch) work.
func (e *FeatureCountMismatchError) Is(target error) bool {
	return target == ErrFeatureCountMismatch
}

// ErrInvalidFeatureValue is returned for NaN or infinite inputs.
var ErrInvalidFeatureValue = errors.New("invalid feature value")

// Expand converts raw into the full vector expected by the classifiers.
//
// A vector that already has expectedArity entries is returned as a copy. A
// legacy vector with exactly DerivedFeatureCount fewer entries gets the log1p
// transform on the rate and idle columns and three derived ratios appended:
// forward/backward packets, bytes per packet (from the transformed rates) and
// average forward packet length. raw is never modified.
func Expand(raw FeatureVector, expectedArity int) (FeatureVector, error) {
	switch len(raw) {
	case expectedArity:
		out := make(FeatureVector, len(raw))
		copy(out, raw)
		return out, nil
	case expectedArity - DerivedFeatureCount:
		if len(raw) <= IdxTotalFwdLength {
			break
		}
		out := make(FeatureVector, len(raw), expectedArity)
		copy(out, raw)

		out[IdxFlowBytesRate] = math.Log1p(out[IdxFlowBytesRate])
		out[IdxFlowPacketsRate] = math.Log1p(out[IdxFlowPacketsRate])
		out[IdxIdleMean] = math.Log1p(out[IdxIdleMean])

		fwdBwdRatio := out[IdxFwdPackets] / (out[IdxBwdPackets] + 1)
		bytesPerPacket := out[IdxFlowBytesRate] / (out[IdxFlowPacketsRate] + 1)
		avgFwdPktLen := out[IdxTotalFwdLength] / (out[IdxFwdPackets] + 1)

		return append(out, fwdBwdRatio, bytesPerPacket, avgFwdPktLen), nil
	}

	return nil, &FeatureCountMismatchError{Expected: expectedArity, Got: len(raw)}
}

// Validate rejects vectors carrying NaN or infinite values.
func (v FeatureVector) Validate() error {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: feature %d is %v", ErrInvalidFeatureValue, i, x)
		}
	}
	return nil
}

// FlowShape is the named view of the flow descriptors used for risk scoring.
type FlowShape struct {
	DurationMicros float64
	FwdPackets     float64
	BwdPackets     float64
}

// Shape extracts the flow descriptors. Missing slots read as zero.
func (v FeatureVector) Shape() FlowShape {
	at := func(i int) float64 {
		if i < len(v) {
			return v[i]
		}
		return 0
	}
	return FlowShape{
		DurationMicros: at(IdxFlowDuration),
		FwdPackets:     at(IdxFwdPackets),
		BwdPackets:     at(IdxBwdPackets),
	}
}
