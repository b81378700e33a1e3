package render

import "image/color"

// Jet maps a value in [0, 1] through the classic jet colormap: dark blue
// through cyan, green and yellow to dark red. Out-of-range values clamp.
func Jet(v float32) color.RGBA {
	return color.RGBA{
		R: rampByte(1.5 - abs(4*v-3)),
		G: rampByte(1.5 - abs(4*v-2)),
		B: rampByte(1.5 - abs(4*v-1)),
		A: 255,
	}
}

func rampByte(v float32) uint8 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return uint8(v * 255)
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
