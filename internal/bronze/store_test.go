package bronze

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	k := Key{SourceType: "hackernews", ExternalID: "12345", Artifact: "raw", Ext: "json"}

	require.False(t, s.Exists(k))
	_, err := s.Read(k)
	assert.ErrorIs(t, err, ErrMissing)

	payload := []byte(`{"objectID":"12345"}`)
	require.NoError(t, s.Write(k, payload))
	require.True(t, s.Exists(k))

	got, err := s.Read(k)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestStore_WriteNeverOverwrites(t *testing.T) {
	s := NewStore(t.TempDir())
	k := Key{SourceType: "content", ExternalID: "abc", Artifact: "response", Ext: "html"}

	require.NoError(t, s.Write(k, []byte("first")))
	require.NoError(t, s.Write(k, []byte("second")))

	got, err := s.Read(k)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)
}

func TestStore_NoPartialArtifacts(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)
	k := Key{SourceType: "youtube", ExternalID: "vid1", Artifact: "audio", Ext: "opus"}
	require.NoError(t, s.Write(k, []byte("audio-bytes")))

	// Only the final artifact should be on disk, no temp leftovers.
	entries, err := os.ReadDir(filepath.Join(root, "youtube", "vid1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "audio.opus", entries[0].Name())
}

func TestStore_Adopt(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)
	k := Key{SourceType: "youtube", ExternalID: "vid2", Artifact: "audio", Ext: "opus"}

	src := filepath.Join(t.TempDir(), "download.opus")
	require.NoError(t, os.WriteFile(src, []byte("downloaded"), 0o644))

	require.NoError(t, s.Adopt(k, src))
	got, err := s.Read(k)
	require.NoError(t, err)
	assert.Equal(t, []byte("downloaded"), got)

	// Adopting over an existing artifact keeps the original.
	src2 := filepath.Join(t.TempDir(), "download2.opus")
	require.NoError(t, os.WriteFile(src2, []byte("other"), 0o644))
	require.NoError(t, s.Adopt(k, src2))
	got, err = s.Read(k)
	require.NoError(t, err)
	assert.Equal(t, []byte("downloaded"), got)
}

func TestStore_Scratch(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	dir, err := s.Scratch("audio-*")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dir, filepath.Join(root, ".scratch")))

	// A file made in scratch adopts cleanly (same filesystem rename).
	src := filepath.Join(dir, "track.opus")
	require.NoError(t, os.WriteFile(src, []byte("bytes"), 0o644))
	k := Key{SourceType: "youtube", ExternalID: "vid3", Artifact: "audio", Ext: "opus"}
	require.NoError(t, s.Adopt(k, src))
	assert.True(t, s.Exists(k))
}

func TestURLKey_Stable(t *testing.T) {
	a := URLKey("content", "https://example.com/a", "response", "html")
	b := URLKey("content", "https://example.com/a", "response", "html")
	c := URLKey("content", "https://example.com/b", "response", "html")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a.ExternalID, c.ExternalID)
	assert.Len(t, a.ExternalID, 16)
}
