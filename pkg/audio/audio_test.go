package audio

import (
	"errors"
	"math"
	"testing"
)

func pcmFromSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func samplesFromPCM(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

func TestWAVRoundTrip(t *testing.T) {
	pcm := pcmFromSamples([]int16{0, 1000, -1000, 32767, -32768})
	wav := EncodeWAV(pcm, 16000, 1)

	decoded, format, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if format.SampleRate != 16000 || format.Channels != 1 {
		t.Errorf("format = %+v, want 16000 Hz mono", format)
	}
	if len(decoded) != len(pcm) {
		t.Fatalf("decoded %d bytes, want %d", len(decoded), len(pcm))
	}
	for i := range pcm {
		if decoded[i] != pcm[i] {
			t.Fatalf("byte %d = %d, want %d", i, decoded[i], pcm[i])
		}
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("not a wav file"),
		make([]byte, 44),
	}
	for _, data := range cases {
		if _, _, err := DecodeWAV(data); !errors.Is(err, ErrInvalidWAV) {
			t.Errorf("DecodeWAV(%d bytes) err = %v, want ErrInvalidWAV", len(data), err)
		}
	}
}

func TestDecodeWAVSkipsExtraChunks(t *testing.T) {
	pcm := pcmFromSamples([]int16{100, 200, 300})
	wav := EncodeWAV(pcm, 44100, 1)

	// Splice a LIST chunk between fmt and data.
	list := append([]byte("LIST"), 4, 0, 0, 0, 'I', 'N', 'F', 'O')
	spliced := make([]byte, 0, len(wav)+len(list))
	spliced = append(spliced, wav[:36]...)
	spliced = append(spliced, list...)
	spliced = append(spliced, wav[36:]...)

	decoded, format, err := DecodeWAV(spliced)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if format.SampleRate != 44100 {
		t.Errorf("sample rate = %d, want 44100", format.SampleRate)
	}
	if len(decoded) != len(pcm) {
		t.Errorf("decoded %d bytes, want %d", len(decoded), len(pcm))
	}
}

func TestStereoToMono(t *testing.T) {
	stereo := pcmFromSamples([]int16{1000, 2000, -500, 500, 32767, 32767})
	mono := samplesFromPCM(StereoToMono(stereo))

	want := []int16{1500, 0, 32767}
	if len(mono) != len(want) {
		t.Fatalf("got %d samples, want %d", len(mono), len(want))
	}
	for i := range want {
		if mono[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, mono[i], want[i])
		}
	}
}

func TestResampleMono16Halves(t *testing.T) {
	src := make([]int16, 480) // 10 ms at 48 kHz
	for i := range src {
		src[i] = int16(2000 * math.Sin(2*math.Pi*440*float64(i)/48000))
	}
	out := ResampleMono16(pcmFromSamples(src), 48000, 16000)
	if got, want := len(out)/2, 160; got != want {
		t.Errorf("resampled to %d samples, want %d", got, want)
	}
}

func TestResampleMono16SameRate(t *testing.T) {
	pcm := pcmFromSamples([]int16{1, 2, 3})
	out := ResampleMono16(pcm, 16000, 16000)
	if len(out) != len(pcm) {
		t.Errorf("same-rate resample changed length: %d -> %d", len(pcm), len(out))
	}
}

func TestToTranscriptionWAV(t *testing.T) {
	src := make([]int16, 441) // 10 ms at 44.1 kHz
	wav := EncodeWAV(pcmFromSamples(src), 44100, 1)

	out, err := ToTranscription(wav, "audio/wav")
	if err != nil {
		t.Fatalf("ToTranscription: %v", err)
	}
	if got, want := len(out)/2, 160; got != want {
		t.Errorf("got %d samples, want %d", got, want)
	}
}

func TestToTranscriptionL16Passthrough(t *testing.T) {
	pcm := pcmFromSamples([]int16{1, 2, 3})
	out, err := ToTranscription(pcm, "audio/l16; rate=16000")
	if err != nil {
		t.Fatalf("ToTranscription: %v", err)
	}
	if len(out) != len(pcm) {
		t.Errorf("l16 passthrough changed length: %d -> %d", len(pcm), len(out))
	}
}

func TestToTranscriptionUnsupported(t *testing.T) {
	_, err := ToTranscription([]byte{1, 2, 3}, "audio/webm;codecs=opus")
	if !errors.Is(err, ErrUnsupportedContentType) {
		t.Errorf("err = %v, want ErrUnsupportedContentType", err)
	}
}

func TestDecodeOpusFramesTruncated(t *testing.T) {
	// Length prefix claims 100 bytes but only 2 follow.
	data := []byte{100, 0, 1, 2}
	if _, err := DecodeOpusFrames(data); !errors.Is(err, ErrInvalidOpusFrames) {
		t.Errorf("err = %v, want ErrInvalidOpusFrames", err)
	}
}

func TestEncodeOpusFramesLayout(t *testing.T) {
	data := EncodeOpusFrames([][]byte{{0xAA, 0xBB}, {0xCC}})
	want := []byte{2, 0, 0xAA, 0xBB, 1, 0, 0xCC}
	if len(data) != len(want) {
		t.Fatalf("got %d bytes, want %d", len(data), len(want))
	}
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, data[i], want[i])
		}
	}
}
