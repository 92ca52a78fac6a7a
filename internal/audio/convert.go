package audio

// Resample converts in from srcRate to dstRate by linear interpolation.
func Resample(in []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(in) == 0 {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}
	ratio := float64(dstRate) / float64(srcRate)
	outLen := int(float64(len(in))*ratio + 0.9999)
	out := make([]float32, outLen)
	for i := 0; i < outLen; i++ {
		pos := float64(i) / ratio
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = in[idx]*(1-frac) + in[idx+1]*frac
	}
	return out
}

// ToInt16 converts normalized samples to 16-bit PCM, clipping out-of-range
// values.
func ToInt16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		switch {
		case s >= 1:
			out[i] = 32767
		case s <= -1:
			out[i] = -32768
		default:
			out[i] = int16(s * 32768)
		}
	}
	return out
}

// ToPCM16LE encodes samples as little-endian signed 16-bit PCM bytes.
func ToPCM16LE(in []float32) []byte {
	out := make([]byte, 2*len(in))
	for i, s := range ToInt16(in) {
		u := uint16(s)
		out[2*i] = byte(u)
		out[2*i+1] = byte(u >> 8)
	}
	return out
}
