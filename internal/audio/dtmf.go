package audio

import (
	"errors"
	"fmt"
	"math"
	"unicode"
)

// ErrUnknownDigit reports a rune outside the 12-key DTMF keypad.
var ErrUnknownDigit = errors.New("unknown dtmf digit")

const (
	dtmfSampleRate = 8000
	dtmfToneMS     = 250
	dtmfGapMS      = 50
	dtmfAmplitude  = 0.5
)

// dtmfTones maps each keypad digit to its low/high frequency pair in Hz.
var dtmfTones = map[rune][2]float64{
	'1': {697, 1209}, '2': {697, 1336}, '3': {697, 1477},
	'4': {770, 1209}, '5': {770, 1336}, '6': {770, 1477},
	'7': {852, 1209}, '8': {852, 1336}, '9': {852, 1477},
	'*': {941, 1209}, '0': {941, 1336}, '#': {941, 1477},
}

// SynthesizeDTMF renders a digit sequence as canonical 8 kHz PCM16LE audio:
// a 250 ms dual-sine tone per digit followed by a 50 ms gap. Whitespace is
// skipped; any other rune outside the keypad fails with ErrUnknownDigit and
// no audio is produced.
func SynthesizeDTMF(digits string) ([]byte, error) {
	toneSamples := dtmfSampleRate * dtmfToneMS / 1000
	gapSamples := dtmfSampleRate * dtmfGapMS / 1000

	var keys []rune
	for _, r := range digits {
		if unicode.IsSpace(r) {
			continue
		}
		if _, ok := dtmfTones[r]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownDigit, r)
		}
		keys = append(keys, r)
	}

	out := make([]byte, 0, len(keys)*(toneSamples+gapSamples)*2)
	for _, r := range keys {
		pair := dtmfTones[r]
		for n := 0; n < toneSamples; n++ {
			t := float64(n) / dtmfSampleRate
			v := dtmfAmplitude * (math.Sin(2*math.Pi*pair[0]*t) + math.Sin(2*math.Pi*pair[1]*t)) / 2
			s := int16(v * math.MaxInt16)
			out = append(out, byte(uint16(s)), byte(uint16(s)>>8))
		}
		for n := 0; n < gapSamples; n++ {
			out = append(out, 0, 0)
		}
	}
	return out, nil
}
