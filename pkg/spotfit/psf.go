/*
Extracted from HocusFocus plugin by George Hilios.
Original Copyright © 2021 George Hilios <ghilios+NINA@googlemail.com>
Licensed under Mozilla Public License 2.0.
Ported to Go.
*/

package spotfit

import (
	"fmt"
	"math"
)

var sigmaToFWHM = 2.0 * math.Sqrt(2.0*math.Log(2.0))

// PSFModel summarizes a fitted spot in the usual point-spread-function
// terms.
type PSFModel struct {
	OffsetX      float64
	OffsetY      float64
	Peak         float64
	Background   float64
	SigmaX       float64
	SigmaY       float64
	Sigma        float64
	FWHMx        float64
	FWHMy        float64
	ThetaRadians float64
	FWHMPixels   float64
	FWHMArcsecs  float64
	Eccentricity float64
	RSquared     float64
}

// NewPSFModel derives the PSF summary of p. pixelScale converts pixels to
// arcseconds and defaults to 1 when not positive.
func NewPSFModel(p Params, rSquared, pixelScale float64) *PSFModel {
	if !(pixelScale > 0) {
		pixelScale = 1
	}
	sigX, sigY := math.Abs(p.SigmaX()), math.Abs(p.SigmaY())
	fwhmX := sigX * sigmaToFWHM
	fwhmY := sigY * sigmaToFWHM

	a := math.Max(fwhmX, fwhmY)
	b := math.Min(fwhmX, fwhmY)
	eccentricity := 0.0
	if a > 0 {
		eccentricity = math.Sqrt(1 - b*b/(a*a))
	}
	fwhmPixels := math.Sqrt(fwhmX * fwhmY)

	return &PSFModel{
		OffsetX:      p.X(),
		OffsetY:      p.Y(),
		Peak:         p.Amplitude(),
		Background:   p.Background(),
		SigmaX:       sigX,
		SigmaY:       sigY,
		Sigma:        math.Sqrt(sigX * sigY),
		FWHMx:        fwhmX,
		FWHMy:        fwhmY,
		ThetaRadians: p.Theta(),
		Eccentricity: eccentricity,
		FWHMPixels:   fwhmPixels,
		FWHMArcsecs:  fwhmPixels * pixelScale,
		RSquared:     rSquared,
	}
}

// PSF is shorthand for NewPSFModel(r.Params, r.RSquared, pixelScale).
func (r *Result) PSF(pixelScale float64) *PSFModel {
	return NewPSFModel(r.Params, r.RSquared, pixelScale)
}

func (p *PSFModel) String() string {
	return fmt.Sprintf("{OffsetX=%f, OffsetY=%f, Peak=%f, Background=%f, SigmaX=%f, SigmaY=%f, FWHMx=%f, FWHMy=%f, FWHMPixels=%f, FWHMArcsecs=%f, Eccentricity=%f, RSquared=%f}",
		p.OffsetX, p.OffsetY, p.Peak, p.Background, p.SigmaX, p.SigmaY, p.FWHMx, p.FWHMy, p.FWHMPixels, p.FWHMArcsecs, p.Eccentricity, p.RSquared)
}
