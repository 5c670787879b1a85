package audio

import "encoding/binary"

// StreamResampler converts mono 16-bit little-endian PCM between sample
// rates in chunks. Interpolation state is carried per (inRate, targetRate)
// pair across calls so chunk boundaries do not click: resampling a stream
// in pieces yields the same bytes as resampling it whole.
//
// Create one per stream; not designed for shared use across goroutines.
type StreamResampler struct {
	target int
	states map[ratePair]*resampleState
}

type ratePair struct {
	in  int
	out int
}

// resampleState carries the previous chunk's final sample and the
// fractional read position relative to it.
type resampleState struct {
	last   int16
	phase  float64
	primed bool
}

// NewStreamResampler returns a resampler producing targetRate output.
func NewStreamResampler(targetRate int) *StreamResampler {
	return &StreamResampler{
		target: targetRate,
		states: make(map[ratePair]*resampleState),
	}
}

// Resample converts pcm from inRate to the target rate using linear
// interpolation. When inRate equals the target rate the input slice is
// returned unchanged. Output samples that would need look-ahead past the
// end of pcm are held back and emitted on the next call.
func (r *StreamResampler) Resample(pcm []byte, inRate int) []byte {
	if inRate <= 0 || r.target <= 0 || inRate == r.target || len(pcm) < 2 {
		return pcm
	}

	key := ratePair{in: inRate, out: r.target}
	st := r.states[key]
	if st == nil {
		st = &resampleState{}
		r.states[key] = st
	}

	n := len(pcm) / 2
	samples := make([]int16, 0, n+1)
	if st.primed {
		samples = append(samples, st.last)
	}
	for i := range n {
		samples = append(samples, int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	step := float64(inRate) / float64(r.target)
	pos := st.phase
	out := make([]byte, 0, (n*r.target/inRate+2)*2)

	for int(pos) < len(samples) {
		i := int(pos)
		frac := pos - float64(i)
		s0 := samples[i]
		s1 := s0
		if i+1 < len(samples) {
			s1 = samples[i+1]
		} else if frac > 0 {
			// The pair straddles the chunk boundary; wait for more input.
			break
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out = append(out, byte(v), byte(v>>8))
		pos += step
	}

	st.last = samples[len(samples)-1]
	st.phase = pos - float64(len(samples)-1)
	st.primed = true
	return out
}

// Reset discards all carried interpolation state. Call between streams
// that share a resampler instance.
func (r *StreamResampler) Reset() {
	clear(r.states)
}
