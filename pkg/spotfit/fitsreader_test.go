package spotfit

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fitsCard(key, value string) string {
	card := fmt.Sprintf("%-8s= %20s", key, value)
	return card + strings.Repeat(" ", fitsRecordSize-len(card))
}

func buildFits(t *testing.T, bitpix, width, height int, extra []string, pixels any) []byte {
	t.Helper()
	var buf bytes.Buffer
	cards := []string{
		fitsCard("SIMPLE", "T"),
		fitsCard("BITPIX", fmt.Sprint(bitpix)),
		fitsCard("NAXIS", "2"),
		fitsCard("NAXIS1", fmt.Sprint(width)),
		fitsCard("NAXIS2", fmt.Sprint(height)),
	}
	cards = append(cards, extra...)
	cards = append(cards, "COMMENT synthetic test image"+strings.Repeat(" ", fitsRecordSize-28))
	cards = append(cards, "END"+strings.Repeat(" ", fitsRecordSize-3))
	for _, c := range cards {
		require.Len(t, c, fitsRecordSize)
		buf.WriteString(c)
	}
	if pad := buf.Len() % fitsBlockSize; pad != 0 {
		buf.WriteString(strings.Repeat(" ", fitsBlockSize-pad))
	}
	require.NoError(t, binary.Write(&buf, binary.BigEndian, pixels))
	return buf.Bytes()
}

func TestReadFitsPatchBitpix(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		bitpix int
		extra  []string
		pixels any
		want   []float64
	}{
		{"8", 8, nil, []uint8{0, 1, 2, 255}, []float64{0, 1, 2, 255}},
		{"16 bzero", 16, []string{fitsCard("BZERO", "32768"), fitsCard("BSCALE", "1")},
			[]int16{-32768, 0, 1, 32767}, []float64{0, 32768, 32769, 65535}},
		{"16 blank", 16, []string{fitsCard("BLANK", "-1")},
			[]int16{-1, 0, 1, 2}, []float64{math.NaN(), 0, 1, 2}},
		{"32 bscale", 32, []string{fitsCard("BSCALE", "0.5")},
			[]int32{-4, 0, 4, 1 << 20}, []float64{-2, 0, 2, 1 << 19}},
		{"-32", -32, nil, []float32{1.5, float32(math.NaN()), -2, 0}, []float64{1.5, math.NaN(), -2, 0}},
		{"-64", -64, nil, []float64{1e-3, 2, math.Inf(1), -7.25}, []float64{1e-3, 2, math.Inf(1), -7.25}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := buildFits(t, tc.bitpix, 2, 2, tc.extra, tc.pixels)
			fp, err := ReadFitsPatchFromBytes(data)
			require.NoError(t, err)
			assert.Equal(t, tc.bitpix, fp.BitPix)
			r, c := fp.Image.Dims()
			assert.Equal(t, 2, r)
			assert.Equal(t, 2, c)
			if diff := cmp.Diff(tc.want, fp.Image.RawMatrix().Data, cmpopts.EquateNaNs()); diff != "" {
				t.Errorf("pixels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadFitsPatchMetadata(t *testing.T) {
	extra := []string{
		fitsCard("OBJECT", "'M 13    '"),
		fitsCard("EXPTIME", "120.5"),
		fitsCard("XPIXSZ", "3.76"),
		fitsCard("FOCALLEN", "800"),
		fitsCard("DATE-OBS", "'2024-05-01T22:13:00'"),
	}
	data := buildFits(t, 8, 3, 3, extra, make([]uint8, 9))

	path := filepath.Join(t.TempDir(), "patch.fits")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	fp, err := ReadFitsPatch(path)
	require.NoError(t, err)
	md := fp.Metadata
	assert.Equal(t, "M 13", md.ObjectName())
	exp, ok := md.ExposureTime()
	assert.True(t, ok)
	assert.Equal(t, 120.5, exp)
	scale, ok := md.PixelScale()
	assert.True(t, ok)
	assert.InDelta(t, 0.9694455, scale, 1e-6)
	n, ok := md.GetInt("naxis1")
	assert.True(t, ok)
	assert.Equal(t, 3, n)
	ts, ok := md.GetDateTime("DATE-OBS")
	assert.True(t, ok)
	assert.Equal(t, 2024, ts.Year())
	assert.Equal(t, "True", md.GetString("SIMPLE"))
}

func TestReadFitsPatchErrors(t *testing.T) {
	_, err := ReadFitsPatch(filepath.Join(t.TempDir(), "missing.fits"))
	assert.Error(t, err)

	_, err = ReadFitsPatchFromBytes([]byte("SIMPLE  = T"))
	assert.Error(t, err)

	data := buildFits(t, 24, 2, 2, nil, make([]uint8, 12))
	_, err = ReadFitsPatchFromBytes(data)
	assert.ErrorContains(t, err, "unsupported BITPIX")

	data = buildFits(t, 16, 2, 2, nil, make([]int16, 4))
	_, err = ReadFitsPatchFromBytes(data[:len(data)-2])
	assert.ErrorContains(t, err, "pixel data")
}

func TestFitFromFitsPatch(t *testing.T) {
	truth := Params{0.3, -0.4, 500, 1.5, 0.9, 0.4, 100}
	img := ModelImage(truth, 15)
	raw := make([]float32, 0, 15*15)
	for row := 0; row < 15; row++ {
		for col := 0; col < 15; col++ {
			raw = append(raw, float32(img.At(row, col)))
		}
	}
	fp, err := ReadFitsPatchFromBytes(buildFits(t, -32, 15, 15, nil, raw))
	require.NoError(t, err)

	init := Params{0, 0, 400, 1.2, 1.2, 0.2, 90}
	res, err := Fit(fp.Image, init, "xyarstc", nil)
	require.NoError(t, err)
	assertRecovered(t, truth, res.Params, 1e-4)
}

func TestExtractPatch(t *testing.T) {
	truth := Params{0.25, -0.5, 3, 1, 1.3, 0, 1}
	full := ModelImage(truth, 31)

	p, err := ExtractPatch(full, 20, 8, 7)
	require.NoError(t, err)
	assert.Equal(t, full.At(5, 17), p.At(0, 0))
	assert.Equal(t, full.At(8, 20), p.At(3, 3))

	edge, err := ExtractPatch(full, 0, 0, 5)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(edge.At(0, 0)))
	assert.True(t, math.IsNaN(edge.At(1, 4)))
	assert.Equal(t, full.At(0, 0), edge.At(2, 2))

	_, err = ExtractPatch(full, 0, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
