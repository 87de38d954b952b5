package services

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"audio-converter/models"
)

type fakeRunner struct {
	run func(ctx context.Context, name string, args ...string) (commandResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, name, args...)
}

type fakeDecoder struct {
	hint    string
	samples []float32
	err     error
}

func (f *fakeDecoder) Decode(ctx context.Context, data []byte, hint string) ([]float32, error) {
	f.hint = hint
	return f.samples, f.err
}

type fakeModel struct {
	calls int
	text  string
	err   error
}

func (f *fakeModel) Process(ctx context.Context, samples []float32) (string, error) {
	f.calls++
	return f.text, f.err
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestDecodeHint(t *testing.T) {
	cases := []struct {
		contentType string
		want        string
	}{
		{"audio/mp3", "mp3"},
		{"audio/wav", "wav"},
		{"audio/x-wav", "wav"},
		{"audio/mp4", "m4a"},
		{"audio/aac", "m4a"},
		{"audio/x-m4a", "m4a"},
		{"audio/ogg", "mp3"},
		{"", "mp3"},
		{"AUDIO/WAV", "wav"},
	}
	for _, tc := range cases {
		if got := DecodeHint(tc.contentType); got != tc.want {
			t.Errorf("DecodeHint(%q) = %q, want %q", tc.contentType, got, tc.want)
		}
	}
}

func TestTranscriptionServiceDecodeErrorKind(t *testing.T) {
	svc := NewTranscriptionService(&fakeDecoder{err: errors.New("invalid data found")}, &fakeModel{})

	_, err := svc.Decode(context.Background(), Audio{Data: []byte("junk"), ContentType: "audio/wav"})
	if models.KindOf(err) != models.KindDecode {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestTranscriptionServicePassesHint(t *testing.T) {
	dec := &fakeDecoder{samples: []float32{0.1}}
	svc := NewTranscriptionService(dec, &fakeModel{})

	if _, err := svc.Decode(context.Background(), Audio{Data: []byte("x"), ContentType: "audio/aac"}); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec.hint != "m4a" {
		t.Fatalf("hint = %q, want m4a", dec.hint)
	}
}

func TestTranscriptionServiceModelErrorKind(t *testing.T) {
	svc := NewTranscriptionService(&fakeDecoder{}, &fakeModel{err: errors.New("out of memory")})

	_, err := svc.Transcribe(context.Background(), []float32{0.2, 0.3})
	if models.KindOf(err) != models.KindTranscription {
		t.Fatalf("expected transcription error, got %v", err)
	}
}

func TestTranscriptionServiceSilenceIsSuccess(t *testing.T) {
	model := &fakeModel{text: "ignored"}
	svc := NewTranscriptionService(&fakeDecoder{}, model)

	text, err := svc.Transcribe(context.Background(), nil)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "" || model.calls != 0 {
		t.Fatalf("expected empty transcript without model call, got %q (%d calls)", text, model.calls)
	}

	model.text = "  \n"
	text, err = svc.Transcribe(context.Background(), []float32{0, 0, 0})
	if err != nil || text != "" {
		t.Fatalf("expected empty transcript, got %q, %v", text, err)
	}
}

func TestFFmpegDecoderParsesSamples(t *testing.T) {
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint32(raw[0:], math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(raw[4:], math.Float32bits(-0.25))

	var gotArgs []string
	var inputData []byte
	dec := NewFFmpegDecoder("ffmpeg-custom")
	dec.runner = &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		if name != "ffmpeg-custom" {
			t.Fatalf("command = %q", name)
		}
		gotArgs = append([]string{}, args...)
		inputData, _ = os.ReadFile(argValue(args, "-i"))
		return commandResult{Stdout: raw}, nil
	}}

	samples, err := dec.Decode(context.Background(), []byte("encoded"), "wav")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(samples) != 2 || samples[0] != 0.5 || samples[1] != -0.25 {
		t.Fatalf("samples = %v", samples)
	}
	if string(inputData) != "encoded" {
		t.Fatalf("ffmpeg input = %q", inputData)
	}
	if !strings.HasSuffix(argValue(gotArgs, "-i"), "input.wav") {
		t.Fatalf("input path = %q", argValue(gotArgs, "-i"))
	}
	if argValue(gotArgs, "-ar") != "16000" || argValue(gotArgs, "-ac") != "1" || argValue(gotArgs, "-f") != "f32le" {
		t.Fatalf("unexpected ffmpeg args: %v", gotArgs)
	}
}

func TestFFmpegDecoderFailure(t *testing.T) {
	dec := NewFFmpegDecoder("ffmpeg")
	dec.runner = &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		return commandResult{ExitCode: 1, Stderr: "Invalid data found"}, errors.New("ffmpeg exited with 1")
	}}

	if _, err := dec.Decode(context.Background(), []byte("junk"), "mp3"); err == nil {
		t.Fatal("expected decode failure")
	}
	if _, err := dec.Decode(context.Background(), nil, "mp3"); err == nil {
		t.Fatal("expected error for empty stream")
	}
}

func TestFFmpegDecoderTruncatedStream(t *testing.T) {
	dec := NewFFmpegDecoder("ffmpeg")
	dec.runner = &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		return commandResult{Stdout: []byte{1, 2, 3}}, nil
	}}

	if _, err := dec.Decode(context.Background(), []byte("x"), "mp3"); err == nil {
		t.Fatal("expected error for truncated stream")
	}
}

func TestWhisperCLIProcess(t *testing.T) {
	modelPath := filepath.Join(t.TempDir(), "ggml-base.bin")
	if err := os.WriteFile(modelPath, []byte("model"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	w, err := NewWhisperCLI("whisper-custom", modelPath, "en")
	if err != nil {
		t.Fatalf("NewWhisperCLI: %v", err)
	}

	var wav []byte
	var gotArgs []string
	w.runner = &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		gotArgs = append([]string{}, args...)
		wav, _ = os.ReadFile(argValue(args, "-f"))
		if err := os.WriteFile(argValue(args, "-of")+".txt", []byte(" hello world \n"), 0o644); err != nil {
			t.Fatalf("write transcript: %v", err)
		}
		return commandResult{}, nil
	}}

	text, err := w.Process(context.Background(), []float32{0, 0.5, -0.5})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if text != " hello world \n" {
		t.Fatalf("text = %q", text)
	}
	if argValue(gotArgs, "-m") != modelPath || argValue(gotArgs, "-l") != "en" {
		t.Fatalf("unexpected whisper args: %v", gotArgs)
	}
	if len(wav) != 44+3*2 || string(wav[:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("unexpected wav header: %d bytes", len(wav))
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != SampleRate {
		t.Fatalf("wav sample rate = %d", rate)
	}
}

func TestWhisperCLIAutoLanguageOmitsFlag(t *testing.T) {
	args := buildWhisperArgs("m.bin", "a.wav", "out", "auto")
	if argValue(args, "-l") != "" {
		t.Fatalf("expected no language flag, got %v", args)
	}
}

func TestNewWhisperCLIMissingModel(t *testing.T) {
	if _, err := NewWhisperCLI("whisper", filepath.Join(t.TempDir(), "missing.bin"), ""); err == nil {
		t.Fatal("expected error for missing model")
	}
}
