package urlx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/eddy/internal/eddy"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "lowercases and strips www",
			in:   "http://WWW.Example.com/a?id=1",
			want: "https://example.com/a?id=1",
		},
		{
			name: "strips tracking params and sorts the rest",
			in:   "https://example.com/a?z=2&utm_source=x&id=1&fbclid=abc",
			want: "https://example.com/a?id=1&z=2",
		},
		{
			name: "strips trailing slash",
			in:   "https://example.com/posts/",
			want: "https://example.com/posts",
		},
		{
			name: "bare root collapses",
			in:   "https://example.com/",
			want: "https://example.com",
		},
		{
			name: "drops fragment",
			in:   "https://example.com/a#section-2",
			want: "https://example.com/a",
		},
		{
			name: "arxiv version suffix",
			in:   "https://arxiv.org/abs/2301.12345v2",
			want: "https://arxiv.org/abs/2301.12345",
		},
		{
			name: "arxiv drops query",
			in:   "https://arxiv.org/abs/2301.12345?context=cs",
			want: "https://arxiv.org/abs/2301.12345",
		},
		{
			name: "youtube watch url",
			in:   "https://m.youtube.com/watch?v=dQw4w9WgXcQ&t=42",
			want: "https://youtube.com/watch?v=dQw4w9WgXcQ",
		},
		{
			name: "youtu.be short link",
			in:   "https://youtu.be/dQw4w9WgXcQ",
			want: "https://youtube.com/watch?v=dQw4w9WgXcQ",
		},
		{
			name: "github git suffix",
			in:   "https://github.com/jdholdren/eddy.git",
			want: "https://github.com/jdholdren/eddy",
		},
		{
			name: "github tree branch",
			in:   "https://github.com/jdholdren/eddy/tree/main",
			want: "https://github.com/jdholdren/eddy",
		},
		{
			name: "reddit thread path",
			in:   "https://old.reddit.com/r/golang/comments/abc123/some_title/?share_id=x",
			want: "https://reddit.com/r/golang/comments/abc123",
		},
		{
			name: "hacker news item",
			in:   "https://news.ycombinator.com/item?id=12345&foo=bar",
			want: "https://news.ycombinator.com/item?id=12345",
		},
		{
			name: "hacker news without id drops the query",
			in:   "https://news.ycombinator.com/news?p=2&utm_source=x",
			want: "https://news.ycombinator.com/news",
		},
		{
			name: "medium share tokens",
			in:   "https://medium.com/@someone/a-post-1234?source=friends_link&sk=deadbeef",
			want: "https://medium.com/@someone/a-post-1234",
		},
		{
			name: "http upgraded to https",
			in:   "http://example.com/a",
			want: "https://example.com/a",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "ftp://example.com/file", "mailto:a@b.com", "not a url at all://"} {
		_, err := Normalize(in)
		assert.ErrorIs(t, err, eddy.ErrInvalidURL, "input %q", in)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"http://WWW.Example.com/a?utm_source=x&id=1",
		"https://youtu.be/dQw4w9WgXcQ",
		"https://arxiv.org/abs/2301.12345v3",
		"https://example.com/a?b=2&a=1",
	}
	for _, in := range inputs {
		once, err := Normalize(in)
		require.NoError(t, err)
		twice, err := Normalize(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "input %q", in)
	}
}

func TestNormalize_TrackingVariantsCollapse(t *testing.T) {
	a, err := Normalize("http://WWW.Example.com/a?utm_source=x&id=1")
	require.NoError(t, err)
	b, err := Normalize("https://example.com/a?id=1")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestExtractDomain(t *testing.T) {
	assert.Equal(t, "example.com", ExtractDomain("https://www.example.com/a"))
	assert.Equal(t, "example.com", ExtractDomain("https://Example.com"))
	// Subdomains other than www are intentionally left alone.
	assert.Equal(t, "blog.example.com", ExtractDomain("https://blog.example.com/post"))
	assert.Equal(t, "", ExtractDomain("no-scheme"))
}
