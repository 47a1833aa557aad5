package spotfit

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want Mode
	}{
		{"full", "xyarstc", Mode{ParamX, ParamY, ParamAmplitude, ParamSigmaX, ParamSigmaY, ParamTheta, ParamBackground}},
		{"upper case", "XYA", Mode{ParamX, ParamY, ParamAmplitude}},
		{"canonical order wins", "cax", Mode{ParamX, ParamAmplitude, ParamBackground}},
		{"duplicates", "aaxa", Mode{ParamX, ParamAmplitude}},
		{"unknown letters ignored", "a?z!", Mode{ParamAmplitude}},
		{"nothing recognized", "qz", Mode{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseMode(tc.in)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ParseMode(%q) mismatch (-want +got):\n%s", tc.in, diff)
			}
		})
	}

	_, err := ParseMode("")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestModeString(t *testing.T) {
	m, err := ParseMode("TSRAYXC")
	require.NoError(t, err)
	assert.Equal(t, "xyarstc", m.String())
	assert.True(t, m.Has(ParamTheta))

	m, err = ParseMode("ac")
	require.NoError(t, err)
	assert.Equal(t, "ac", m.String())
	assert.False(t, m.Has(ParamX))
}

func TestReduceExpand(t *testing.T) {
	p := Params{1, 2, 3, 4, 5, 6, 7}
	m := Mode{ParamY, ParamSigmaX, ParamBackground}

	x := m.reduce(p)
	assert.Equal(t, []float64{2, 4, 7}, x)

	m.expand([]float64{20, 40, 70}, &p)
	assert.Equal(t, Params{1, 20, 3, 40, 5, 6, 70}, p)
}

func TestNewParams(t *testing.T) {
	p, err := NewParams([]float64{0.5, -0.5, 4, 1.2, 0.8, 0.1, 0.1})
	require.NoError(t, err)
	assert.Equal(t, 0.5, p.X())
	assert.Equal(t, -0.5, p.Y())
	assert.Equal(t, 4.0, p.Amplitude())
	assert.Equal(t, 1.2, p.SigmaX())
	assert.Equal(t, 0.8, p.SigmaY())
	assert.Equal(t, 0.1, p.Theta())
	assert.Equal(t, 0.1, p.Background())

	_, err = NewParams([]float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestParamsValidate(t *testing.T) {
	t.Parallel()

	good := Params{0, 0, 1, 1, 1, 0, 0}
	require.NoError(t, good.validate())

	bad := map[string]func(p *Params){
		"nan x":          func(p *Params) { p[ParamX] = math.NaN() },
		"inf amplitude":  func(p *Params) { p[ParamAmplitude] = math.Inf(1) },
		"zero sigma x":   func(p *Params) { p[ParamSigmaX] = 0 },
		"negative sigma": func(p *Params) { p[ParamSigmaY] = -1 },
	}
	for name, mutate := range bad {
		t.Run(name, func(t *testing.T) {
			p := good
			mutate(&p)
			err := p.validate()
			assert.True(t, errors.Is(err, ErrInvalidArgument), "got %v", err)
		})
	}
}

func TestParamLetters(t *testing.T) {
	for i := 0; i < NumParams; i++ {
		assert.Equal(t, canonicalMode[i], Param(i).Letter())
	}
	assert.Equal(t, byte('?'), Param(NumParams).Letter())
	assert.Equal(t, "sigma_y", ParamSigmaY.String())
	assert.Equal(t, "Unknown", Param(-1).String())
}
