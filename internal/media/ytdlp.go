// Package media wraps the external tools the transcription stage shells out
// to: yt-dlp for audio downloads and whisper.cpp's CLI for speech to text.
package media

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// YTDLP downloads a video's audio track by shelling out to yt-dlp.
type YTDLP struct {
	binary   string
	proxyURL string
}

func NewYTDLP(binary, proxyURL string) *YTDLP {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &YTDLP{binary: binary, proxyURL: proxyURL}
}

// Download pulls the best audio track as opus into dir and returns the path
// of the file the tool produced. The track streams straight to disk; it is
// never held in memory.
func (y *YTDLP) Download(ctx context.Context, videoID, dir string) (string, error) {
	args := []string{
		"--quiet",
		"--no-progress",
		"--no-warnings",
		"-f", "bestaudio/best",
		"-x",
		"--audio-format", "opus",
		"-o", filepath.Join(dir, "%(id)s.%(ext)s"),
	}
	if y.proxyURL != "" {
		args = append(args, "--proxy", y.proxyURL)
	}
	args = append(args, "https://www.youtube.com/watch?v="+videoID)

	cmd := exec.CommandContext(ctx, y.binary, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("yt-dlp: %w: %s", err, strings.TrimSpace(string(output)))
	}

	// The postprocessor decides the final extension; take whatever landed.
	matches, err := filepath.Glob(filepath.Join(dir, videoID+".*"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("yt-dlp produced no output for %s", videoID)
	}
	return matches[0], nil
}
