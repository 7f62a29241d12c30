package audio

// Normalize scales buf so its peak reaches target, never applying more than
// maxGain. Silent buffers and buffers already at or above target are returned
// as-is. The returned gain is 1 when nothing was changed.
func Normalize(buf *Buffer, target, maxGain float32) (*Buffer, float32) {
	if buf.Empty() {
		return buf, 1
	}
	peak := buf.Peak()
	// float32 rounding can leave a normalized peak a few ulps under target
	if peak == 0 || peak >= target*(1-1e-5) {
		return buf, 1
	}

	gain := target / peak
	if gain > maxGain {
		gain = maxGain
	}

	out := NewBuffer(buf.NumChannels(), buf.Len(), buf.Rate)
	for ch, data := range buf.Data {
		dst := out.Data[ch]
		for i, s := range data {
			dst[i] = s * gain
		}
	}
	return out, gain
}
