package media

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool drops a shell script standing in for the external binary.
func fakeTool(t *testing.T, name, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tool scripts need a shell")
	}

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestYTDLP_Download(t *testing.T) {
	// Parse -o out of the args and write a fake opus file where the real
	// tool would.
	script := `
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then out="$a"; fi
  prev="$a"
done
dest=$(echo "$out" | sed 's/%(id)s/vid42/; s/%(ext)s/opus/')
printf 'opus-bytes' > "$dest"
`
	dir := t.TempDir()
	dl := NewYTDLP(fakeTool(t, "yt-dlp", script), "")
	path, err := dl.Download(context.Background(), "vid42", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "vid42.opus"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "opus-bytes", string(data))
}

func TestYTDLP_ToolFailure(t *testing.T) {
	dl := NewYTDLP(fakeTool(t, "yt-dlp", `echo "ERROR: video unavailable" >&2; exit 1`), "")
	_, err := dl.Download(context.Background(), "gone", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "video unavailable")
}

func TestWhisper_Transcribe(t *testing.T) {
	script := `
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--output-file" ]; then out="$a"; fi
  prev="$a"
done
cat > "$out.json" <<'EOF'
{"result":{"language":"en"},"transcription":[{"text":" Eddies form"},{"text":" behind obstacles."}]}
EOF
`
	w := NewWhisper(fakeTool(t, "whisper-cli", script), "/models/ggml-base.en.bin", 4)
	assert.Equal(t, "ggml-base.en", w.ID())
	assert.Equal(t, "threads=4", w.Params())

	tr, err := w.Transcribe(context.Background(), "/tmp/audio.opus")
	require.NoError(t, err)
	assert.Equal(t, "Eddies form behind obstacles.", tr.Text)
	assert.Equal(t, "en", tr.Language)
}

func TestWhisper_ToolFailure(t *testing.T) {
	w := NewWhisper(fakeTool(t, "whisper-cli", `echo "failed to load model" >&2; exit 3`), "/models/m.bin", 1)
	_, err := w.Transcribe(context.Background(), "/tmp/audio.opus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load model")
}
