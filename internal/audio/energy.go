package audio

import "encoding/binary"

// ChunkEnergy returns the mean absolute amplitude of a PCM16LE chunk.
// Input shorter than one sample yields 0; a trailing odd byte is ignored.
func ChunkEnergy(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var total float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		v := int(s)
		if v < 0 {
			v = -v
		}
		total += float64(v)
	}
	return total / float64(n)
}
