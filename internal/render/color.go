package render

import (
	"image/color"
	"math"
)

// rgbToLAB/labToRGB implement the standard sRGB -> CIE L*a*b* round trip
// via XYZ/D65. No retrieved example depends on a LAB-aware color
// library, so this is a direct, self-contained implementation rather
// than a hand-rolled stand-in for something the pack already provides.
func rgbToLAB(c color.NRGBA) (l, a, b float64) {
	r := srgbToLinear(float64(c.R) / 255)
	g := srgbToLinear(float64(c.G) / 255)
	bl := srgbToLinear(float64(c.B) / 255)

	x := r*0.4124564 + g*0.3575761 + bl*0.1804375
	y := r*0.2126729 + g*0.7151522 + bl*0.0721750
	z := r*0.0193339 + g*0.1191920 + bl*0.9503041

	const xn, yn, zn = 0.95047, 1.0, 1.08883
	fx := labF(x / xn)
	fy := labF(y / yn)
	fz := labF(z / zn)

	l = 116*fy - 16
	a = 500 * (fx - fy)
	b = 200 * (fy - fz)
	return l, a, b
}

func labToRGB(l, a, b float64, alpha uint8) color.NRGBA {
	fy := (l + 16) / 116
	fx := fy + a/500
	fz := fy - b/200

	const xn, yn, zn = 0.95047, 1.0, 1.08883
	x := xn * labFInv(fx)
	y := yn * labFInv(fy)
	z := zn * labFInv(fz)

	r := x*3.2404542 + y*-1.5371385 + z*-0.4985314
	g := x*-0.9692660 + y*1.8760108 + z*0.0415560
	bl := x*0.0556434 + y*-0.2040259 + z*1.0572252

	return color.NRGBA{
		R: toByte(linearToSRGB(r)),
		G: toByte(linearToSRGB(g)),
		B: toByte(linearToSRGB(bl)),
		A: alpha,
	}
}

func srgbToLinear(v float64) float64 {
	if v <= 0.04045 {
		return v / 12.92
	}
	return math.Pow((v+0.055)/1.055, 2.4)
}

func linearToSRGB(v float64) float64 {
	if v <= 0.0031308 {
		return v * 12.92
	}
	return 1.055*math.Pow(v, 1/2.4) - 0.055
}

func labF(t float64) float64 {
	const delta = 6.0 / 29.0
	if t > delta*delta*delta {
		return math.Cbrt(t)
	}
	return t/(3*delta*delta) + 4.0/29.0
}

func labFInv(t float64) float64 {
	const delta = 6.0 / 29.0
	if t > delta {
		return t * t * t
	}
	return 3 * delta * delta * (t - 4.0/29.0)
}

func toByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// relativeLuminance is the WCAG relative luminance of an sRGB color
// (spec.md §4.8 step 5).
func relativeLuminance(c color.NRGBA) float64 {
	r := srgbToLinear(float64(c.R) / 255)
	g := srgbToLinear(float64(c.G) / 255)
	b := srgbToLinear(float64(c.B) / 255)
	return 0.2126*r + 0.7152*g + 0.0722*b
}

// contrastRatio is the WCAG contrast ratio between two colors.
func contrastRatio(c1, c2 color.NRGBA) float64 {
	l1 := relativeLuminance(c1) + 0.05
	l2 := relativeLuminance(c2) + 0.05
	if l1 < l2 {
		l1, l2 = l2, l1
	}
	return l1 / l2
}
