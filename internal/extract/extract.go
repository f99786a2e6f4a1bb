// Package extract turns raw HTML payloads into article title and body text.
// It is pure over its input, so it sits outside the bronze cache: re-running
// it over a cached payload is cheap and deterministic.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"

	"github.com/jdholdren/eddy/internal/eddy"
)

var _ eddy.Extractor = Readability{}

var stripPolicy = bluemonday.StrictPolicy()

// Readability extracts the main article from a page using the readability
// heuristics, then strips any markup the extraction let through.
type Readability struct{}

func New() Readability {
	return Readability{}
}

func (Readability) Extract(pageURL string, html []byte) (string, string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", "", fmt.Errorf("error parsing page url: %s", err)
	}

	article, err := readability.FromReader(bytes.NewReader(html), u)
	if err != nil {
		return "", "", fmt.Errorf("error extracting article: %w", err)
	}

	body := strings.TrimSpace(stripPolicy.Sanitize(article.TextContent))
	if body == "" {
		return "", "", fmt.Errorf("no article text found in %s", pageURL)
	}

	return strings.TrimSpace(article.Title), body, nil
}
