package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jdholdren/eddy/internal/bronze"
	"github.com/jdholdren/eddy/internal/eddy"
)

// Whisper runs whisper.cpp's CLI over an audio file. The model path and
// thread count identify a run's settings, so different settings cache
// separately downstream.
type Whisper struct {
	binary    string
	modelPath string
	threads   int
}

func NewWhisper(binary, modelPath string, threads int) *Whisper {
	if binary == "" {
		binary = "whisper-cli"
	}
	if threads <= 0 {
		threads = 4
	}
	return &Whisper{binary: binary, modelPath: modelPath, threads: threads}
}

func (w *Whisper) ID() string {
	base := filepath.Base(w.modelPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (w *Whisper) Params() string {
	return "threads=" + strconv.Itoa(w.threads)
}

// whisperOutput is the shape of the CLI's JSON output file.
type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Text string `json:"text"`
	} `json:"transcription"`
}

func (w *Whisper) Transcribe(ctx context.Context, audioPath string) (eddy.Transcript, error) {
	scratch, err := os.MkdirTemp("", "whisper-*")
	if err != nil {
		return eddy.Transcript{}, fmt.Errorf("error creating scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	outBase := filepath.Join(scratch, "out")
	args := []string{
		"-m", w.modelPath,
		"-t", strconv.Itoa(w.threads),
		"-f", audioPath,
		"--output-json",
		"--output-file", outBase,
		"--no-prints",
	}

	cmd := exec.CommandContext(ctx, w.binary, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return eddy.Transcript{}, fmt.Errorf("whisper: %w: %s", err, strings.TrimSpace(string(output)))
	}

	raw, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return eddy.Transcript{}, fmt.Errorf("error reading whisper output: %w", err)
	}

	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		// Output that does not parse will not parse on a retry either.
		return eddy.Transcript{}, bronze.Permanent(fmt.Errorf("error decoding whisper output: %w", err))
	}

	var sb strings.Builder
	for _, seg := range out.Transcription {
		sb.WriteString(seg.Text)
	}

	return eddy.Transcript{
		Text:     strings.TrimSpace(sb.String()),
		Language: out.Result.Language,
	}, nil
}
