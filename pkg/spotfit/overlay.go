package spotfit

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/gonum/mat"
)

const (
	overlayPanelPx = 240
	overlayGap     = 10
	overlayTitleH  = 20
	overlayFooterH = 60
)

var (
	maskedColor = color.RGBA{60, 0, 60, 255}
	textColor   = color.RGBA{220, 220, 220, 255}
)

// RenderResidualOverlay draws the observed patch, the fitted model and the
// residual map side by side and writes the result as a JPEG.
func RenderResidualOverlay(patch mat.Matrix, res *Result, outputPath string) error {
	img, err := renderResidualImage(patch, res)
	if err != nil {
		return err
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create overlay file: %w", err)
	}
	defer f.Close()

	return jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
}

// RenderResidualOverlayBytes is RenderResidualOverlay returning JPEG bytes.
func RenderResidualOverlayBytes(patch mat.Matrix, res *Result) ([]byte, error) {
	img, err := renderResidualImage(patch, res)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderResidualImage(patch mat.Matrix, res *Result) (*image.RGBA, error) {
	if patch == nil || res == nil || res.Residuals == nil {
		return nil, errors.New("no fit result to render")
	}
	n, cols := patch.Dims()
	if rn, rc := res.Residuals.Dims(); n != cols || rn != n || rc != n {
		return nil, fmt.Errorf("patch %dx%d does not match residual map %dx%d", n, cols, rn, rc)
	}

	cell := overlayPanelPx / n
	if cell < 1 {
		cell = 1
	}
	panel := cell * n
	imgW := 3*panel + 4*overlayGap
	imgH := overlayTitleH + panel + overlayFooterH

	img := image.NewRGBA(image.Rect(0, 0, imgW, imgH))
	for y := 0; y < imgH; y++ {
		for x := 0; x < imgW; x++ {
			img.Set(x, y, color.RGBA{0, 0, 0, 255})
		}
	}

	model := ModelImage(res.Params, n)
	lo, hi := valueRange(patch, model)
	resMax := 0.0
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			if v := res.Residuals.At(row, col); !math.IsNaN(v) {
				resMax = math.Max(resMax, math.Abs(v))
			}
		}
	}

	face := basicfont.Face7x13
	titles := [3]string{"observed", "model", "residual"}
	for k := 0; k < 3; k++ {
		x0 := overlayGap + k*(panel+overlayGap)
		y0 := overlayTitleH
		drawCenteredText(img, face, titles[k], x0+panel/2, overlayTitleH-6, textColor)
		for row := 0; row < n; row++ {
			for col := 0; col < n; col++ {
				var c color.RGBA
				switch k {
				case 0:
					c = grayColor(patch.At(row, col), lo, hi)
				case 1:
					if math.IsNaN(patch.At(row, col)) {
						c = maskedColor
					} else {
						c = grayColor(model.At(row, col), lo, hi)
					}
				default:
					c = residualColor(res.Residuals.At(row, col), resMax)
				}
				fillRect(img, x0+col*cell, y0+row*cell, cell, cell, c)
			}
		}
		drawFWHMEllipse(img, res.Params, n, cell, x0, y0)
	}

	psf := res.PSF(1)
	footerY := overlayTitleH + panel + 18
	line1 := fmt.Sprintf("x=%.3f y=%.3f A=%.3g C=%.3g  FWHM %.2f x %.2f px  theta=%.1f deg",
		res.Params.X(), res.Params.Y(), res.Params.Amplitude(), res.Params.Background(),
		psf.FWHMx, psf.FWHMy, res.Params.Theta()*180/math.Pi)
	line2 := fmt.Sprintf("mode=%s  iter=%d  RSS=%.4g  R2=%.4f  max|r|=%.3g", res.Mode, res.Iterations, res.RSS, res.RSquared, resMax)
	if !res.Converged {
		line2 += "  [NOT CONVERGED]"
	}
	drawText(img, face, line1, overlayGap, footerY, textColor)
	drawText(img, face, line2, overlayGap, footerY+18, textColor)

	return img, nil
}

func valueRange(mats ...mat.Matrix) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, m := range mats {
		r, c := m.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				v := m.At(i, j)
				if math.IsNaN(v) || math.IsInf(v, 0) {
					continue
				}
				lo, hi = math.Min(lo, v), math.Max(hi, v)
			}
		}
	}
	if lo > hi {
		return 0, 1
	}
	return lo, hi
}

func grayColor(v, lo, hi float64) color.RGBA {
	if math.IsNaN(v) {
		return maskedColor
	}
	t := 0.0
	if hi > lo {
		t = math.Min(math.Max((v-lo)/(hi-lo), 0), 1)
	}
	g := uint8(t * 255)
	return color.RGBA{g, g, g, 255}
}

// residualColor maps negative residuals to blue and positive to red.
func residualColor(v, scale float64) color.RGBA {
	if math.IsNaN(v) {
		return maskedColor
	}
	t := 0.0
	if scale > 0 {
		t = math.Max(-1, math.Min(v/scale, 1))
	}
	if t >= 0 {
		return color.RGBA{uint8(40 + t*215), uint8(40 * (1 - t)), uint8(40 * (1 - t)), 255}
	}
	t = -t
	return color.RGBA{uint8(40 * (1 - t)), uint8(40 * (1 - t)), uint8(40 + t*215), 255}
}

func fillRect(img *image.RGBA, x, y, w, h int, c color.RGBA) {
	for yy := y; yy < y+h; yy++ {
		for xx := x; xx < x+w; xx++ {
			img.Set(xx, yy, c)
		}
	}
}

// drawFWHMEllipse outlines the half-maximum contour of p on a panel whose
// top-left corner is (x0, y0).
func drawFWHMEllipse(img *image.RGBA, p Params, n, cell, x0, y0 int) {
	half := float64(n / 2)
	cx := float64(x0) + (p.X()+half+0.5)*float64(cell)
	cy := float64(y0) + (p.Y()+half+0.5)*float64(cell)
	ax := math.Abs(p.SigmaX()) * sigmaToFWHM / 2 * float64(cell)
	ay := math.Abs(p.SigmaY()) * sigmaToFWHM / 2 * float64(cell)
	ct, st := math.Cos(p.Theta()), math.Sin(p.Theta())

	// The model's rotated axes are u = xi*cos t - yi*sin t and
	// v = xi*sin t + yi*cos t, so the inverse rotation maps (u, v) back.
	point := func(phi float64) (int, int) {
		u, v := ax*math.Cos(phi), ay*math.Sin(phi)
		return int(cx + u*ct + v*st), int(cy - u*st + v*ct)
	}

	const segments = 48
	c := color.RGBA{80, 255, 80, 255}
	px, py := point(0)
	for i := 1; i <= segments; i++ {
		qx, qy := point(2 * math.Pi * float64(i) / segments)
		drawLine(img, px, py, qx, qy, c)
		px, py = qx, qy
	}
	icx, icy := int(cx), int(cy)
	drawLine(img, icx-4, icy, icx+4, icy, c)
	drawLine(img, icx, icy-4, icx, icy+4, c)
}

// drawText draws a string at (x, y) using the given font face.
func drawText(img *image.RGBA, face font.Face, s string, x, y int, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// drawCenteredText draws a string centered at (cx, cy).
func drawCenteredText(img *image.RGBA, face font.Face, s string, cx, cy int, c color.RGBA) {
	advance := font.MeasureString(face, s)
	drawText(img, face, s, cx-advance.Round()/2, cy, c)
}

// drawLine draws a line between two points using Bresenham's algorithm.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := intAbs(x1 - x0)
	dy := -intAbs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy

	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func intAbs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
