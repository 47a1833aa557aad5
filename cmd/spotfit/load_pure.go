//go:build purego || js

package main

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"
)

func loadNonFitsImage(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := mat.NewDense(h, w, nil)
	// Keep the source bit depth so values match the native loader.
	wide := false
	switch img.ColorModel() {
	case color.Gray16Model, color.RGBA64Model, color.NRGBA64Model:
		wide = true
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.At(bounds.Min.X+x, bounds.Min.Y+y)
			if wide {
				out.Set(y, x, float64(color.Gray16Model.Convert(c).(color.Gray16).Y))
			} else {
				out.Set(y, x, float64(color.GrayModel.Convert(c).(color.Gray).Y))
			}
		}
	}
	return out, nil
}
