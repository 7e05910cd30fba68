// Package media frames and validates the audio containers used for local
// playback: WAV wrapping for raw PCM fragments and header checks for the
// compressed replies some relays send instead.
package media

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// wavHeaderSize is the canonical PCM WAV header length in bytes.
const wavHeaderSize = 44

// WrapPCM builds a playable WAV container around raw little-endian PCM
// samples. Output length is always wavHeaderSize + len(pcm); no compression.
func WrapPCM(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))

	// RIFF header
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	// fmt chunk
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16)) // PCM chunk size
	binary.Write(&buf, binary.LittleEndian, uint16(1))  // PCM format tag
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	byteRate := sampleRate * channels * bitsPerSample / 8
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	blockAlign := channels * bitsPerSample / 8
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	// data chunk
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// WavInfo describes a parsed WAV header.
type WavInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataLen       int
}

// ParseWAV reads the fmt chunk of a WAV container. Used by the self-test
// path; playback itself hands containers to the platform player untouched.
func ParseWAV(data []byte) (WavInfo, error) {
	if !ValidateWAV(data) {
		return WavInfo{}, fmt.Errorf("media: not a RIFF/WAVE container")
	}

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))

		if chunkID == "fmt " {
			if chunkSize < 16 || offset+8+16 > len(data) {
				return WavInfo{}, fmt.Errorf("media: invalid fmt chunk size %d", chunkSize)
			}
			info := WavInfo{
				Channels:      int(binary.LittleEndian.Uint16(data[offset+10 : offset+12])),
				SampleRate:    int(binary.LittleEndian.Uint32(data[offset+12 : offset+16])),
				BitsPerSample: int(binary.LittleEndian.Uint16(data[offset+22 : offset+24])),
			}

			dataOffset := offset + 8 + chunkSize
			for dataOffset+8 <= len(data) {
				id := string(data[dataOffset : dataOffset+4])
				size := int(binary.LittleEndian.Uint32(data[dataOffset+4 : dataOffset+8]))
				if id == "data" {
					info.DataLen = size
					return info, nil
				}
				dataOffset += 8 + size
			}
			return WavInfo{}, fmt.Errorf("media: data chunk not found")
		}

		offset += 8 + chunkSize
	}

	return WavInfo{}, fmt.Errorf("media: fmt chunk not found")
}

// ValidateWAV checks the container magic bytes.
func ValidateWAV(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	return string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}
