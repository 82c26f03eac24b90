package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidWAV is returned when WAV data cannot be parsed.
var ErrInvalidWAV = errors.New("audio: invalid wav data")

// EncodeWAV wraps 16-bit little-endian PCM samples in a RIFF/WAVE
// container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	dataLen := len(pcm)
	buf := make([]byte, 44+dataLen)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	byteRate := sampleRate * channels * 2
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	blockAlign := channels * 2
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV parses a RIFF/WAVE container and returns its PCM payload
// along with the source format. Only uncompressed 16-bit PCM is
// supported.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, ErrInvalidWAV
	}

	var fmtChunk []byte
	var pcm []byte

	// Walk RIFF chunks; fmt and data may appear in any order and other
	// chunks (LIST, fact) can sit between them.
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			fmtChunk = data[body : body+size]
		case "data":
			pcm = data[body : body+size]
		}
		pos = body + size
		if size%2 == 1 {
			pos++ // chunks are word aligned
		}
	}

	if len(fmtChunk) < 16 || pcm == nil {
		return nil, Format{}, ErrInvalidWAV
	}

	audioFormat := binary.LittleEndian.Uint16(fmtChunk[0:2])
	channels := int(binary.LittleEndian.Uint16(fmtChunk[2:4]))
	sampleRate := int(binary.LittleEndian.Uint32(fmtChunk[4:8]))
	bitsPerSample := binary.LittleEndian.Uint16(fmtChunk[14:16])

	if audioFormat != 1 || bitsPerSample != 16 {
		return nil, Format{}, fmt.Errorf("%w: unsupported encoding (format=%d bits=%d)", ErrInvalidWAV, audioFormat, bitsPerSample)
	}
	if channels < 1 || channels > 2 || sampleRate <= 0 {
		return nil, Format{}, fmt.Errorf("%w: channels=%d rate=%d", ErrInvalidWAV, channels, sampleRate)
	}

	return pcm, Format{SampleRate: sampleRate, Channels: channels}, nil
}
