package audio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"layeh.com/gopus"
)

// Opus capture devices emit 48 kHz mono frames.
const (
	opusSampleRate = 48000
	opusChannels   = 1

	// 60 ms at 48 kHz, the largest frame duration Opus allows.
	opusMaxFrameSize = 2880
)

// ErrInvalidOpusFrames is returned when an opus-frames payload is truncated
// or a frame fails to decode.
var ErrInvalidOpusFrames = errors.New("audio: invalid opus frames")

// EncodeOpusFrames packs raw Opus packets into the length-prefixed stream
// format used by audio/opus-frames artifacts: each packet is preceded by its
// byte length as a little-endian uint16.
func EncodeOpusFrames(packets [][]byte) []byte {
	size := 0
	for _, p := range packets {
		size += 2 + len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range packets {
		var hdr [2]byte
		binary.LittleEndian.PutUint16(hdr[:], uint16(len(p)))
		out = append(out, hdr[:]...)
		out = append(out, p...)
	}
	return out
}

// DecodeOpusFrames decodes a length-prefixed Opus frame stream to 16-bit
// little-endian PCM at 48 kHz mono.
func DecodeOpusFrames(data []byte) ([]byte, error) {
	decoder, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}

	var pcm []byte
	pos := 0
	for pos < len(data) {
		if pos+2 > len(data) {
			return nil, fmt.Errorf("%w: truncated length prefix at offset %d", ErrInvalidOpusFrames, pos)
		}
		frameLen := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
		pos += 2
		if pos+frameLen > len(data) {
			return nil, fmt.Errorf("%w: truncated frame at offset %d", ErrInvalidOpusFrames, pos)
		}
		frame := data[pos : pos+frameLen]
		pos += frameLen

		samples, err := decoder.Decode(frame, opusMaxFrameSize, false)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOpusFrames, err)
		}
		for _, s := range samples {
			pcm = append(pcm, byte(s), byte(s>>8))
		}
	}
	return pcm, nil
}
