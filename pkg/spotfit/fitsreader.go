package spotfit

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"
)

const (
	fitsRecordSize = 80
	fitsBlockSize  = 2880
)

// FitsMetadata holds parsed FITS header key-value pairs.
type FitsMetadata struct {
	Headers map[string]string
}

// NewFitsMetadata creates an empty FitsMetadata.
func NewFitsMetadata() *FitsMetadata {
	return &FitsMetadata{Headers: make(map[string]string)}
}

func (m *FitsMetadata) GetString(key string) string {
	return m.Headers[strings.ToUpper(key)]
}

func (m *FitsMetadata) GetDouble(key string) (float64, bool) {
	v, ok := m.Headers[strings.ToUpper(key)]
	if !ok {
		return 0, false
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return d, true
}

func (m *FitsMetadata) GetInt(key string) (int, bool) {
	v, ok := m.Headers[strings.ToUpper(key)]
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return i, true
}

func (m *FitsMetadata) GetDateTime(key string) (time.Time, bool) {
	v, ok := m.Headers[strings.ToUpper(key)]
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.999999999", "2006-01-02"} {
		if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (m *FitsMetadata) ObjectName() string { return m.GetString("OBJECT") }
func (m *FitsMetadata) CameraName() string { return m.GetString("INSTRUME") }
func (m *FitsMetadata) Filter() string     { return m.GetString("FILTER") }

func (m *FitsMetadata) ExposureTime() (float64, bool) {
	if v, ok := m.GetDouble("EXPTIME"); ok {
		return v, true
	}
	return m.GetDouble("EXPOSURE")
}

// PixelScale returns the image scale in arcseconds per pixel from the
// PIXSCALE keyword, or from XPIXSZ (microns) and FOCALLEN (mm).
func (m *FitsMetadata) PixelScale() (float64, bool) {
	if v, ok := m.GetDouble("PIXSCALE"); ok && v > 0 {
		return v, true
	}
	px, okPx := m.GetDouble("XPIXSZ")
	fl, okFl := m.GetDouble("FOCALLEN")
	if !okPx || !okFl || fl <= 0 {
		return 0, false
	}
	return 206.265 * px / fl, true
}

// FitsPatch is a FITS image decoded to physical values. Row 0 is the first
// row stored in the file.
type FitsPatch struct {
	Image    *mat.Dense
	BitPix   int
	Metadata *FitsMetadata
}

// ReadFitsPatch reads the primary image of a FITS file.
func ReadFitsPatch(filePath string) (*FitsPatch, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening FITS file: %w", err)
	}
	defer f.Close()
	return readFitsPatch(f)
}

// ReadFitsPatchFromBytes reads the primary image of an in-memory FITS file.
func ReadFitsPatchFromBytes(data []byte) (*FitsPatch, error) {
	return readFitsPatch(bytes.NewReader(data))
}

func readFitsPatch(r io.Reader) (*FitsPatch, error) {
	var bitpix, naxis, width, height int
	bzero, bscale := 0.0, 1.0
	var blank int64
	hasBlank := false
	metadata := NewFitsMetadata()

	recordBuf := make([]byte, fitsRecordSize)
	headerDone := false
	for !headerDone {
		for i := 0; i < fitsBlockSize/fitsRecordSize; i++ {
			if _, err := io.ReadFull(r, recordBuf); err != nil {
				return nil, fmt.Errorf("reading FITS header record: %w", err)
			}
			record := string(recordBuf)
			keyword := strings.TrimSpace(record[:8])

			if keyword == "END" {
				headerDone = true
				if remaining := fitsBlockSize/fitsRecordSize - 1 - i; remaining > 0 {
					if _, err := io.CopyN(io.Discard, r, int64(remaining*fitsRecordSize)); err != nil {
						return nil, fmt.Errorf("skipping FITS header padding: %w", err)
					}
				}
				break
			}
			if record[8] != '=' || record[9] != ' ' {
				continue
			}

			rawValue := strings.TrimSpace(strings.SplitN(record[10:], "/", 2)[0])
			if parsed := parseFitsValue(rawValue); keyword != "" && parsed != "" {
				metadata.Headers[strings.ToUpper(keyword)] = parsed
			}

			var err error
			switch keyword {
			case "BITPIX":
				bitpix, err = strconv.Atoi(rawValue)
			case "NAXIS":
				naxis, err = strconv.Atoi(rawValue)
			case "NAXIS1":
				width, err = strconv.Atoi(rawValue)
			case "NAXIS2":
				height, err = strconv.Atoi(rawValue)
			case "BZERO":
				bzero, err = strconv.ParseFloat(rawValue, 64)
			case "BSCALE":
				bscale, err = strconv.ParseFloat(rawValue, 64)
			case "BLANK":
				blank, err = strconv.ParseInt(rawValue, 10, 64)
				hasBlank = err == nil
			}
			if err != nil {
				return nil, fmt.Errorf("parsing FITS keyword %s=%q: %w", keyword, rawValue, err)
			}
		}
	}

	if naxis < 2 || width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid FITS: NAXIS=%d, NAXIS1=%d, NAXIS2=%d", naxis, width, height)
	}

	bytesPer := 0
	switch bitpix {
	case 8:
		bytesPer = 1
	case 16:
		bytesPer = 2
	case 32, -32:
		bytesPer = 4
	case -64:
		bytesPer = 8
	default:
		return nil, fmt.Errorf("unsupported BITPIX: %d", bitpix)
	}

	numPixels := width * height
	raw := make([]byte, numPixels*bytesPer)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("reading %d-bit pixel data: %w", bitpix, err)
	}

	data := make([]float64, numPixels)
	for i := range data {
		var v float64
		isBlank := false
		switch bitpix {
		case 8:
			b := raw[i]
			isBlank = hasBlank && int64(b) == blank
			v = float64(b)
		case 16:
			s := int16(binary.BigEndian.Uint16(raw[i*2:]))
			isBlank = hasBlank && int64(s) == blank
			v = float64(s)
		case 32:
			s := int32(binary.BigEndian.Uint32(raw[i*4:]))
			isBlank = hasBlank && int64(s) == blank
			v = float64(s)
		case -32:
			v = float64(math.Float32frombits(binary.BigEndian.Uint32(raw[i*4:])))
		case -64:
			v = math.Float64frombits(binary.BigEndian.Uint64(raw[i*8:]))
		}
		if isBlank {
			data[i] = math.NaN()
			continue
		}
		data[i] = v*bscale + bzero
	}

	return &FitsPatch{
		Image:    mat.NewDense(height, width, data),
		BitPix:   bitpix,
		Metadata: metadata,
	}, nil
}

func parseFitsValue(rawValue string) string {
	switch {
	case rawValue == "":
		return ""
	case rawValue == "T":
		return "True"
	case rawValue == "F":
		return "False"
	case strings.HasPrefix(rawValue, "'"):
		if endQuote := strings.LastIndex(rawValue, "'"); endQuote > 0 {
			return strings.TrimRight(rawValue[1:endQuote], " ")
		}
		return strings.TrimLeft(strings.TrimRight(rawValue, " "), "'")
	}
	return rawValue
}

// ExtractPatch copies the n×n window of img centered on (col, row). Pixels
// that fall outside img are NaN.
func ExtractPatch(img mat.Matrix, col, row, n int) (*mat.Dense, error) {
	if img == nil || n <= 0 {
		return nil, fmt.Errorf("patch size %d: %w", n, ErrInvalidArgument)
	}
	rows, cols := img.Dims()
	half := n / 2
	out := mat.NewDense(n, n, nil)
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			sr, sc := row-half+r, col-half+c
			if sr < 0 || sr >= rows || sc < 0 || sc >= cols {
				out.Set(r, c, math.NaN())
				continue
			}
			out.Set(r, c, img.At(sr, sc))
		}
	}
	return out, nil
}
