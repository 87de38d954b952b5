package services

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"audio-converter/models"
)

// SampleRate is the rate every recording is resampled to before transcription.
const SampleRate = 16000

// DecodeHint maps a content type to the container hint handed to the decoder.
// Unknown or empty types default to mp3.
func DecodeHint(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "mp3"):
		return "mp3"
	case strings.Contains(ct, "wav"):
		return "wav"
	case strings.Contains(ct, "m4a"), strings.Contains(ct, "mp4"), strings.Contains(ct, "aac"):
		return "m4a"
	default:
		return "mp3"
	}
}

// SpeechModel converts mono 16kHz float32 samples to text.
type SpeechModel interface {
	Process(ctx context.Context, samples []float32) (string, error)
}

// AudioDecoder turns encoded audio into mono 16kHz float32 samples.
type AudioDecoder interface {
	Decode(ctx context.Context, data []byte, hint string) ([]float32, error)
}

// TranscriptionService wraps decoding and the speech model.
type TranscriptionService struct {
	decoder AudioDecoder
	model   SpeechModel
}

func NewTranscriptionService(decoder AudioDecoder, model SpeechModel) *TranscriptionService {
	return &TranscriptionService{decoder: decoder, model: model}
}

func (t *TranscriptionService) Decode(ctx context.Context, audio Audio) ([]float32, error) {
	hint := DecodeHint(audio.ContentType)
	samples, err := t.decoder.Decode(ctx, audio.Data, hint)
	if err != nil {
		return nil, models.StageErrorf(models.KindDecode, "decode %s audio: %w", hint, err)
	}
	return samples, nil
}

// Transcribe runs the speech model. Silence yields an empty transcript, not
// an error.
func (t *TranscriptionService) Transcribe(ctx context.Context, samples []float32) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	text, err := t.model.Process(ctx, samples)
	if err != nil {
		return "", models.NewStageError(models.KindTranscription, err)
	}
	return strings.TrimSpace(text), nil
}

type commandResult struct {
	Stdout   []byte
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.Bytes(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("%s: %w", name, ctxErr)
		}
		return result, fmt.Errorf("%s exited with %d: %s", name, result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	return result, nil
}

// FFmpegDecoder decodes through the ffmpeg binary into raw f32le samples.
type FFmpegDecoder struct {
	ffmpegPath string
	runner     commandRunner
	mkdirTemp  func(dir, pattern string) (string, error)
	removeAll  func(path string) error
}

func NewFFmpegDecoder(ffmpegPath string) *FFmpegDecoder {
	return &FFmpegDecoder{
		ffmpegPath: ffmpegPath,
		runner:     &execRunner{},
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
	}
}

func (d *FFmpegDecoder) Decode(ctx context.Context, data []byte, hint string) ([]float32, error) {
	if len(data) == 0 {
		return nil, errors.New("empty audio stream")
	}

	tempDir, err := d.mkdirTemp("", "audio-converter-*")
	if err != nil {
		return nil, fmt.Errorf("create temporary workspace: %w", err)
	}
	defer d.removeAll(tempDir)

	// m4a/mp4 demuxing needs a seekable input, so the bytes go to disk.
	inputPath := filepath.Join(tempDir, "input."+hint)
	if err := os.WriteFile(inputPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write audio to disk: %w", err)
	}

	res, err := d.runner.Run(ctx, d.ffmpegPath, buildDecodeArgs(inputPath)...)
	if err != nil {
		return nil, err
	}
	return pcmFloat32(res.Stdout)
}

func buildDecodeArgs(inputPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", fmt.Sprint(SampleRate),
		"-f", "f32le",
		"pipe:1",
	}
}

func pcmFloat32(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("truncated f32le stream: %d bytes", len(raw))
	}
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}

// WhisperCLI runs whisper.cpp on a temporary 16-bit WAV rendering of the samples.
type WhisperCLI struct {
	whisperPath string
	modelPath   string
	language    string
	runner      commandRunner
	mkdirTemp   func(dir, pattern string) (string, error)
	removeAll   func(path string) error
}

func NewWhisperCLI(whisperPath, modelPath, language string) (*WhisperCLI, error) {
	info, err := os.Stat(modelPath)
	if err != nil {
		return nil, fmt.Errorf("cannot access whisper model: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("whisper model %s is a directory", modelPath)
	}
	return &WhisperCLI{
		whisperPath: whisperPath,
		modelPath:   modelPath,
		language:    language,
		runner:      &execRunner{},
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
	}, nil
}

func (w *WhisperCLI) Process(ctx context.Context, samples []float32) (string, error) {
	tempDir, err := w.mkdirTemp("", "audio-converter-whisper-*")
	if err != nil {
		return "", fmt.Errorf("create temporary workspace: %w", err)
	}
	defer w.removeAll(tempDir)

	wavPath := filepath.Join(tempDir, "samples.wav")
	if err := os.WriteFile(wavPath, encodeWAV(samples, SampleRate), 0o600); err != nil {
		return "", fmt.Errorf("write wav: %w", err)
	}

	textBase := filepath.Join(tempDir, "transcript")
	if _, err := w.runner.Run(ctx, w.whisperPath, buildWhisperArgs(w.modelPath, wavPath, textBase, w.language)...); err != nil {
		return "", err
	}

	content, err := os.ReadFile(textBase + ".txt")
	if err != nil {
		return "", fmt.Errorf("whisper completed but transcript is missing: %w", err)
	}
	return string(content), nil
}

func buildWhisperArgs(modelPath, audioPath, textBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", textBase,
		"-otxt",
		"-nt",
	}
	if lang := strings.TrimSpace(language); lang != "" && !strings.EqualFold(lang, "auto") {
		args = append(args, "-l", lang)
	}
	return args
}

// encodeWAV renders mono float32 samples as a 16-bit PCM RIFF file.
func encodeWAV(samples []float32, rate int) []byte {
	const bitsPerSample = 16
	dataLen := len(samples) * 2
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataLen))

	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(buf, binary.LittleEndian, uint32(rate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(rate*bitsPerSample/8))
	_ = binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample/8))
	_ = binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataLen))

	for _, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		_ = binary.Write(buf, binary.LittleEndian, int16(s*math.MaxInt16))
	}
	return buf.Bytes()
}
