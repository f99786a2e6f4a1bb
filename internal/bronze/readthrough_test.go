package bronze

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrough_HitSkipsCall(t *testing.T) {
	s := NewStore(t.TempDir())
	k := Key{SourceType: "test", ExternalID: "x", Artifact: "raw", Ext: "json"}
	require.NoError(t, s.Write(k, []byte("cached")))

	called := false
	got, err := Through(context.Background(), s, k, func(context.Context) ([]byte, error) {
		called = true
		return []byte("fresh"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("cached"), got)
	assert.False(t, called, "cache hit must not invoke the external call")
}

func TestThrough_MissCallsAndWrites(t *testing.T) {
	s := NewStore(t.TempDir())
	k := Key{SourceType: "test", ExternalID: "y", Artifact: "raw", Ext: "json"}

	got, err := Through(context.Background(), s, k, func(context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), got)

	cached, err := s.Read(k)
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), cached)
}

func TestThrough_RetriesTransient(t *testing.T) {
	s := NewStore(t.TempDir())
	k := Key{SourceType: "test", ExternalID: "z", Artifact: "raw", Ext: "json"}

	var calls int32
	got, err := Through(context.Background(), s, k, func(context.Context) ([]byte, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, &HTTPStatusError{URL: "http://x", Status: http.StatusTooManyRequests}
		}
		return []byte("eventually"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("eventually"), got)
	assert.EqualValues(t, 3, calls)
}

func TestThrough_PermanentNoRetry(t *testing.T) {
	s := NewStore(t.TempDir())
	k := Key{SourceType: "test", ExternalID: "p", Artifact: "raw", Ext: "json"}

	boom := errors.New("model rejected input")
	var calls int32
	_, err := Through(context.Background(), s, k, func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, Permanent(boom)
	})
	require.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, calls)
	assert.False(t, s.Exists(k), "failed calls must not write artifacts")
}

func TestThrough_404NoRetry(t *testing.T) {
	s := NewStore(t.TempDir())
	k := Key{SourceType: "test", ExternalID: "nf", Artifact: "raw", Ext: "json"}

	var calls int32
	_, err := Through(context.Background(), s, k, func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, &HTTPStatusError{URL: "http://x", Status: http.StatusNotFound}
	})
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.EqualValues(t, 1, calls)
}

func TestFetchURL(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("<html>hello</html>"))
	}))
	defer srv.Close()

	s := NewStore(t.TempDir())
	k := URLKey("content", srv.URL, "response", "html")

	got, err := FetchURL(context.Background(), s, srv.Client(), k, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("<html>hello</html>"), got)

	// Second fetch is served from bronze.
	got, err = FetchURL(context.Background(), s, srv.Client(), k, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("<html>hello</html>"), got)
	assert.EqualValues(t, 1, hits)
}
