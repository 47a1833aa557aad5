package spotfit

import (
	"bytes"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func fittedPatch(t *testing.T) (*mat.Dense, *Result) {
	t.Helper()
	img := noisyPatch(anisoTruth, 15, 0.05, 17)
	img.Set(0, 14, math.NaN())
	res, err := Fit(img, anisoInit, "xyarstc", nil)
	require.NoError(t, err)
	return img, res
}

func TestRenderResidualOverlay(t *testing.T) {
	t.Parallel()

	img, res := fittedPatch(t)
	data, err := RenderResidualOverlayBytes(img, res)
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	cell := overlayPanelPx / 15
	assert.Equal(t, 3*cell*15+4*overlayGap, decoded.Bounds().Dx())
	assert.Equal(t, overlayTitleH+cell*15+overlayFooterH, decoded.Bounds().Dy())

	path := filepath.Join(t.TempDir(), "overlay.jpg")
	require.NoError(t, RenderResidualOverlay(img, res, path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestRenderResidualOverlayRejectsMismatch(t *testing.T) {
	_, res := fittedPatch(t)
	_, err := RenderResidualOverlayBytes(mat.NewDense(5, 5, nil), res)
	assert.Error(t, err)
	_, err = RenderResidualOverlayBytes(nil, res)
	assert.Error(t, err)
}

func TestResidualColor(t *testing.T) {
	assert.Equal(t, maskedColor, residualColor(math.NaN(), 1))
	pos := residualColor(1, 1)
	neg := residualColor(-1, 1)
	assert.Greater(t, pos.R, pos.B)
	assert.Greater(t, neg.B, neg.R)
	assert.Equal(t, residualColor(0, 0), residualColor(0, 1))
}

func TestRadialProfile(t *testing.T) {
	p := Params{0.2, -0.1, 4, 1.4, 0.8, 0.6, 0.5}
	img := ModelImage(p, 11)
	img.Set(4, 4, math.NaN())

	pts, err := RadialProfile(img, p)
	require.NoError(t, err)
	assert.Len(t, pts, 11*11-1)
	for _, pt := range pts {
		want := p.Amplitude()*math.Exp(-pt.X*pt.X/2) + p.Background()
		assert.InDelta(t, want, pt.Y, 1e-9)
	}
}

func TestPlotRadialProfile(t *testing.T) {
	t.Parallel()

	img, res := fittedPatch(t)
	data, err := PlotRadialProfileBytes(img, res)
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "profile.png")
	require.NoError(t, PlotRadialProfile(img, res, path))
	_, err = os.Stat(path)
	require.NoError(t, err)

	assert.Error(t, PlotRadialProfile(img, nil, path))
}
