package audio

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestWAVRoundTrip(t *testing.T) {
	pcm := pcmFromSamples(0, 1000, -1000, 32767, -32768)
	wav, err := EncodeWAVPCM16LE(pcm, 8000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}

	got, rate, err := ParseWAVPCM16LE(wav)
	if err != nil {
		t.Fatalf("ParseWAVPCM16LE() error = %v", err)
	}
	if rate != 8000 {
		t.Fatalf("rate = %d, want 8000", rate)
	}
	if len(got) != len(pcm) {
		t.Fatalf("len = %d, want %d", len(got), len(pcm))
	}
	for i := range pcm {
		if got[i] != pcm[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], pcm[i])
		}
	}
}

func TestEncodeWAVHeaderFields(t *testing.T) {
	pcm := pcmFromSamples(1, 2, 3)
	wav, err := EncodeWAVPCM16LE(pcm, 8000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad magic: %q %q", wav[0:4], wav[8:12])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 8000 {
		t.Fatalf("sample rate = %d, want 8000", rate)
	}
	if channels := binary.LittleEndian.Uint16(wav[22:24]); channels != 1 {
		t.Fatalf("channels = %d, want 1", channels)
	}
}

func TestParseWAVRejectsMalformed(t *testing.T) {
	valid, err := EncodeWAVPCM16LE(pcmFromSamples(1, 2, 3, 4), 8000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}

	stereo := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint16(stereo[22:], 2)

	eightBit := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint16(eightBit[34:], 8)

	nonPCM := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint16(nonPCM[20:], 3)

	truncated := append([]byte(nil), valid[:len(valid)-3]...)

	badMagic := append([]byte(nil), valid...)
	copy(badMagic[0:4], "RIFX")

	cases := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"short", []byte("RIFF")},
		{"bad magic", badMagic},
		{"stereo", stereo},
		{"8-bit", eightBit},
		{"non-pcm format", nonPCM},
		{"truncated data", truncated},
		{"no data chunk", valid[:36]},
	}
	for _, tc := range cases {
		if _, _, err := ParseWAVPCM16LE(tc.in); !errors.Is(err, ErrMalformedContainer) {
			t.Fatalf("%s: error = %v, want ErrMalformedContainer", tc.name, err)
		}
	}
}

func TestParseWAVDropsTrailingOddByte(t *testing.T) {
	wav, err := EncodeWAVPCM16LE(pcmFromSamples(7, 8), 8000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	// Grow the data chunk by one byte so its size is odd.
	wav = append(wav, 0xAB)
	binary.LittleEndian.PutUint32(wav[40:], 5)
	binary.LittleEndian.PutUint32(wav[4:], uint32(len(wav)-8))

	pcm, _, err := ParseWAVPCM16LE(wav)
	if err != nil {
		t.Fatalf("ParseWAVPCM16LE() error = %v", err)
	}
	if len(pcm) != 4 {
		t.Fatalf("len = %d, want 4", len(pcm))
	}
}
