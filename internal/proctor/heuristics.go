package proctor

// SkinRatioThreshold is the share of skin-toned pixels above which a face
// is considered present.
const SkinRatioThreshold = 0.02

// IsSkinPixel is the RGB skin-tone rule used as a face-presence proxy.
func IsSkinPixel(r, g, b uint8) bool {
	R, G, B := int(r), int(g), int(b)
	spread := max(R, G, B) - min(R, G, B)
	return R > 95 && G > 40 && B > 20 &&
		spread > 15 &&
		R-G > 15 &&
		R > G && R > B
}

// SkinRatio is the share of skin-toned pixels in the whole frame.
func SkinRatio(f *Frame) float64 {
	return skinRatioIn(f, 0, 0, f.Width, f.Height)
}

func skinRatioIn(f *Frame, x0, y0, x1, y1 int) float64 {
	total := (x1 - x0) * (y1 - y0)
	if total <= 0 {
		return 0
	}
	skin := 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			if IsSkinPixel(f.RGB(x, y)) {
				skin++
			}
		}
	}
	return float64(skin) / float64(total)
}

// DetectFace reports whether the frame's skin ratio exceeds the threshold.
func DetectFace(f *Frame) bool {
	return SkinRatio(f) > SkinRatioThreshold
}

// DetectMultipleFaces splits the frame into four quadrants and reports
// whether more than one of them passes the skin-ratio test on its own.
// On odd sizes the right and bottom quadrants take the extra pixel.
func DetectMultipleFaces(f *Frame) bool {
	halfW, halfH := f.Width/2, f.Height/2
	quadrants := [4][4]int{
		{0, 0, halfW, halfH},
		{halfW, 0, f.Width, halfH},
		{0, halfH, halfW, f.Height},
		{halfW, halfH, f.Width, f.Height},
	}

	faces := 0
	for _, q := range quadrants {
		if skinRatioIn(f, q[0], q[1], q[2], q[3]) > SkinRatioThreshold {
			faces++
		}
	}
	return faces > 1
}
