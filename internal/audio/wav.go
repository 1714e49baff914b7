package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrMalformedContainer reports a WAV payload that cannot be unwrapped.
var ErrMalformedContainer = errors.New("malformed wav container")

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LEFile writes raw PCM16LE mono audio bytes as a WAV file.
func WriteWAVPCM16LEFile(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteWAVPCM16LETo(f, pcm, sampleRate)
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = 8000
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(audioFormat)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(numChannels)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, byteRate); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, blockAlign); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(bitsPerSample)); err != nil {
		return err
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// ParseWAVPCM16LE unwraps a WAV container holding 16-bit mono PCM and returns
// the raw sample bytes plus the declared sample rate. Anything that is not a
// plain PCM16 mono stream is rejected with ErrMalformedContainer.
func ParseWAVPCM16LE(wav []byte) (pcm []byte, sampleRate int, err error) {
	if len(wav) < 12 {
		return nil, 0, fmt.Errorf("%w: header too short (%d bytes)", ErrMalformedContainer, len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrMalformedContainer)
	}

	fmtSeen := false
	off := 12
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(wav) {
			return nil, 0, fmt.Errorf("%w: truncated %q chunk", ErrMalformedContainer, id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("%w: fmt chunk too short (%d bytes)", ErrMalformedContainer, size)
			}
			audioFormat := binary.LittleEndian.Uint16(wav[body:])
			channels := binary.LittleEndian.Uint16(wav[body+2:])
			rate := binary.LittleEndian.Uint32(wav[body+4:])
			bits := binary.LittleEndian.Uint16(wav[body+14:])
			if audioFormat != 1 {
				return nil, 0, fmt.Errorf("%w: audio format %d is not PCM", ErrMalformedContainer, audioFormat)
			}
			if channels != 1 {
				return nil, 0, fmt.Errorf("%w: %d channels (mono required)", ErrMalformedContainer, channels)
			}
			if bits != 16 {
				return nil, 0, fmt.Errorf("%w: %d bits per sample (16 required)", ErrMalformedContainer, bits)
			}
			sampleRate = int(rate)
			fmtSeen = true
		case "data":
			if !fmtSeen {
				return nil, 0, fmt.Errorf("%w: data chunk before fmt chunk", ErrMalformedContainer)
			}
			data := wav[body : body+size]
			if len(data)%2 == 1 {
				data = data[:len(data)-1]
			}
			return append([]byte(nil), data...), sampleRate, nil
		}

		off = body + size
		if size%2 == 1 {
			off++ // RIFF chunks are word-aligned
		}
	}
	return nil, 0, fmt.Errorf("%w: no data chunk", ErrMalformedContainer)
}
