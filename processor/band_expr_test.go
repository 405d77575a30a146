package processor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBandExpressions(t *testing.T) {
	exprs, err := ParseBandExpressions([]string{"ndvi=(B_2-B_1)/(B_2+B_1)", " wet = B_1 > 0.5 "}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"ndvi", "wet"}, exprs.Names())
	assert.Equal(t, 2, exprs.Len())
	assert.Equal(t, []string{"B_2", "B_1", "B_2", "B_1"}, exprs.Expressions[0].VarRefs)

	out, err := exprs.Evaluate([]float64{0.2, 0.6})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, out[0], 1e-6)
	assert.Equal(t, 0.0, out[1])

	out, err = exprs.Evaluate([]float64{0.8, 0.6})
	require.NoError(t, err)
	assert.Equal(t, 1.0, out[1])
}

func TestParseBandExpressionsRejects(t *testing.T) {
	for _, def := range []string{
		"noequals",
		"=B_1",
		"x=",
		"B_1=B_2",
		"cover_frac=B_1",
		"x=B_3",
		"x=B_1+(",
	} {
		_, err := ParseBandExpressions([]string{def}, 2)
		assert.Error(t, err, def)
	}

	_, err := ParseBandExpressions([]string{"a=B_1", "a=B_2"}, 2)
	assert.Error(t, err)
}

func TestBandExpressionsEmpty(t *testing.T) {
	var exprs *BandExpressions
	assert.Equal(t, 0, exprs.Len())
	assert.Nil(t, exprs.Names())

	out, err := exprs.Evaluate([]float64{1})
	require.NoError(t, err)
	assert.Nil(t, out)

	exprs, err = ParseBandExpressions(nil, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, exprs.Len())
}

func TestBandExpressionsNaN(t *testing.T) {
	exprs, err := ParseBandExpressions([]string{"ratio=B_1/B_2"}, 2)
	require.NoError(t, err)
	out, err := exprs.Evaluate([]float64{0, 0})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(out[0]))
}

func TestBandExpressionsArithmetic(t *testing.T) {
	exprs, err := ParseBandExpressions([]string{"ndvi=(B_2-B_1)/(B_2+B_1)", "sum=B_1+B_2"}, 2)
	require.NoError(t, err)

	out, err := exprs.Evaluate([]float64{1, 3})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.False(t, math.IsNaN(out[0]))
	assert.InDelta(t, 0.5, out[0], 1e-6)
	assert.Equal(t, 4.0, out[1])
}
