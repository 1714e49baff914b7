package audio

import "encoding/binary"

// G.711 mu-law constants.
const (
	muLawBias = 0x84 // 132
	muLawClip = 32635
)

// DecodeMuLaw expands G.711 mu-law bytes into PCM16LE mono samples.
// The result is exactly twice the input length.
func DecodeMuLaw(data []byte) []byte {
	out := make([]byte, len(data)*2)
	for i, b := range data {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(decodeMuLawSample(b)))
	}
	return out
}

// EncodeMuLaw compresses PCM16LE mono samples into G.711 mu-law bytes.
// A trailing odd byte is ignored.
func EncodeMuLaw(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = encodeMuLawSample(sample)
	}
	return out
}

func decodeMuLawSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	magnitude := ((int(mantissa) << 3) + muLawBias) << exponent
	magnitude -= muLawBias
	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

func encodeMuLawSample(sample int16) byte {
	var sign byte
	v := int(sample)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias

	exponent := 7
	for mask := 0x4000; exponent > 0 && v&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := (v >> (exponent + 3)) & 0x0F

	return ^(sign | byte(exponent<<4) | byte(mantissa))
}
