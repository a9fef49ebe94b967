package ml

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testArity = 17

func legacyVector() FeatureVector {
	v := make(FeatureVector, testArity-DerivedFeatureCount)
	for i := range v {
		v[i] = float64(i) * 1.5
	}
	v[IdxFwdPackets] = 15
	v[IdxBwdPackets] = 10
	v[IdxFlowBytesRate] = 100
	v[IdxFlowPacketsRate] = 50
	v[IdxIdleMean] = 7
	v[IdxTotalFwdLength] = 200
	return v
}

func TestExpand_Legacy(t *testing.T) {
	raw := legacyVector()
	original := append(FeatureVector(nil), raw...)

	full, err := Expand(raw, testArity)
	require.NoError(t, err)
	require.Len(t, full, testArity)

	assert.Equal(t, original, raw, "input must not be modified")

	assert.Equal(t, math.Log1p(100), full[IdxFlowBytesRate])
	assert.Equal(t, math.Log1p(50), full[IdxFlowPacketsRate])
	assert.Equal(t, math.Log1p(7), full[IdxIdleMean])

	assert.Equal(t, 15.0/11.0, full[14], "forward/backward ratio")
	assert.Equal(t, math.Log1p(100)/(math.Log1p(50)+1), full[15], "bytes per packet")
	assert.Equal(t, 200.0/16.0, full[16], "average forward packet length")

	for i := range raw {
		switch i {
		case IdxFlowBytesRate, IdxFlowPacketsRate, IdxIdleMean:
			continue
		}
		assert.Equal(t, raw[i], full[i], "slot %d", i)
	}
}

func TestExpand_LegacyProperty(t *testing.T) {
	for seed := 0; seed < 50; seed++ {
		raw := make(FeatureVector, testArity-DerivedFeatureCount)
		for i := range raw {
			raw[i] = float64((seed*31+i*17)%997) + 0.25
		}

		full, err := Expand(raw, testArity)
		require.NoError(t, err)
		require.Len(t, full, testArity)

		b := math.Log1p(raw[IdxFlowBytesRate])
		p := math.Log1p(raw[IdxFlowPacketsRate])
		assert.Equal(t, raw[IdxFwdPackets]/(raw[IdxBwdPackets]+1), full[14])
		assert.Equal(t, b/(p+1), full[15])
		assert.Equal(t, raw[IdxTotalFwdLength]/(raw[IdxFwdPackets]+1), full[16])
	}
}

func TestExpand_FullPassThrough(t *testing.T) {
	raw := make(FeatureVector, testArity)
	for i := range raw {
		raw[i] = float64(i)
	}

	full, err := Expand(raw, testArity)
	require.NoError(t, err)
	assert.Equal(t, raw, full)

	full[0] = 99
	assert.Equal(t, 0.0, raw[0], "result must be a copy")
}

func TestExpand_Mismatch(t *testing.T) {
	for _, n := range []int{0, 3, 13, 15, 16, 18, 40} {
		_, err := Expand(make(FeatureVector, n), testArity)
		require.Error(t, err, "length %d", n)
		assert.True(t, errors.Is(err, ErrFeatureCountMismatch))

		var mismatch *FeatureCountMismatchError
		require.True(t, errors.As(err, &mismatch))
		assert.Equal(t, testArity, mismatch.Expected)
		assert.Equal(t, n, mismatch.Got)
	}
}

func TestExpand_ShortArityWithoutDerivedSlots(t *testing.T) {
	// a legacy form too short to carry slot 11 cannot be expanded
	_, err := Expand(make(FeatureVector, 5), 8)
	assert.True(t, errors.Is(err, ErrFeatureCountMismatch))
}

func TestFeatureVector_Validate(t *testing.T) {
	assert.NoError(t, FeatureVector{1, 2, 3}.Validate())
	assert.True(t, errors.Is(FeatureVector{1, math.NaN()}.Validate(), ErrInvalidFeatureValue))
	assert.True(t, errors.Is(FeatureVector{math.Inf(1)}.Validate(), ErrInvalidFeatureValue))
}

func TestFeatureVector_Shape(t *testing.T) {
	assert.Equal(t, FlowShape{DurationMicros: 123456, FwdPackets: 15, BwdPackets: 10},
		FeatureVector{123456, 15, 10, 4}.Shape())
	assert.Equal(t, FlowShape{DurationMicros: 9}, FeatureVector{9}.Shape())
}
