// Package audio provides the PCM plumbing between capture artifacts and
// transcription backends: format conversion (resample, downmix), RIFF/WAV
// encoding and decoding, and decoding of length-prefixed Opus frame streams
// as produced by opus-encoding capture devices.
//
// All PCM buffers are 16-bit signed little-endian samples. Transcription
// backends want 16 kHz mono; [ToTranscription] is the one-call path from any
// supported artifact payload to that format.
package audio

import (
	"errors"
	"fmt"
	"strings"
)

// Transcription backends consume 16 kHz mono PCM.
const (
	TranscriptionRate     = 16000
	TranscriptionChannels = 1
)

// Format describes the sample rate and channel count of a PCM buffer.
type Format struct {
	SampleRate int
	Channels   int
}

// ErrUnsupportedContentType is returned by [ToTranscription] for artifact
// payloads this package cannot decode.
var ErrUnsupportedContentType = errors.New("audio: unsupported content type")

// ToTranscription converts an artifact payload to 16 kHz mono PCM. Supported
// content types:
//
//   - audio/wav, audio/wave, audio/x-wav — RIFF container, any rate/channels
//   - audio/l16 — raw 16-bit PCM, assumed 16 kHz mono already
//   - audio/opus-frames — length-prefixed Opus frames ([EncodeOpusFrames] format)
func ToTranscription(data []byte, contentType string) ([]byte, error) {
	ct := contentType
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.TrimSpace(strings.ToLower(ct))

	switch ct {
	case "audio/wav", "audio/wave", "audio/x-wav":
		pcm, format, err := DecodeWAV(data)
		if err != nil {
			return nil, err
		}
		return convertTo16kMono(pcm, format), nil
	case "audio/l16":
		return data, nil
	case "audio/opus-frames":
		pcm, err := DecodeOpusFrames(data)
		if err != nil {
			return nil, err
		}
		return convertTo16kMono(pcm, Format{SampleRate: opusSampleRate, Channels: opusChannels}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}
}

func convertTo16kMono(pcm []byte, f Format) []byte {
	if f.Channels == 2 {
		pcm = StereoToMono(pcm)
	}
	if f.SampleRate != TranscriptionRate {
		pcm = ResampleMono16(pcm, f.SampleRate, TranscriptionRate)
	}
	return pcm
}
