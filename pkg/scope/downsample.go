package scope

// Downsample decimates src to at most maxPoints values for display.
// dst is reused when its capacity suffices, otherwise a new slice is
// allocated. The first value is always kept.
func Downsample[T any](dst, src []T, maxPoints int) []T {
	if len(src) <= maxPoints {
		if cap(dst) >= len(src) {
			dst = dst[:len(src)]
			copy(dst, src)
			return dst
		}
		result := make([]T, len(src))
		copy(result, src)
		return result
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]T, 0, maxPoints)
	}

	step := float64(len(src)) / float64(maxPoints)
	for i := range maxPoints {
		if idx := int(float64(i) * step); idx < len(src) {
			dst = append(dst, src[idx])
		}
	}

	return dst
}
