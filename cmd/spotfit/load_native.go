//go:build !purego && !js

package main

import (
	"fmt"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

func loadNonFitsImage(path string) (*mat.Dense, error) {
	src := gocv.IMRead(path, gocv.IMReadUnchanged)
	if src.Empty() {
		return nil, fmt.Errorf("could not load image: %s", path)
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	switch src.Channels() {
	case 1:
		src.CopyTo(&gray)
	case 3:
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(src, &gray, gocv.ColorBGRAToGray)
	default:
		return nil, fmt.Errorf("unsupported channel count %d: %s", src.Channels(), path)
	}

	floatMat := gocv.NewMat()
	defer floatMat.Close()
	gray.ConvertTo(&floatMat, gocv.MatTypeCV64F)

	h, w := floatMat.Rows(), floatMat.Cols()
	out := mat.NewDense(h, w, nil)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			out.Set(row, col, floatMat.GetDoubleAt(row, col))
		}
	}
	return out, nil
}
