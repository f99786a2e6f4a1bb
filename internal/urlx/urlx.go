// Package urlx canonicalizes content URLs so that every source referencing
// the same real-world item collapses to one string, and therefore one
// content row.
package urlx

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/jdholdren/eddy/internal/eddy"
)

// Tracking parameters removed on every domain that has no specific rule.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
	"msclkid":      {},
	"ref":          {},
	"source":       {},
	"campaign":     {},
	"_ga":          {},
	"_gid":         {},
}

// A domainRule rewrites the host, path and query for hosts it matches.
// Rules are data: adding a domain means adding a row here, nothing else.
type domainRule struct {
	match   func(host string) bool
	rewrite func(host, path string, q url.Values) (string, string, url.Values)
}

var (
	arxivVersion = regexp.MustCompile(`v\d+$`)
	gitSuffix    = regexp.MustCompile(`\.git$`)
	treeSuffix   = regexp.MustCompile(`/tree/[^/]+/?$`)
	redditThread = regexp.MustCompile(`^(/r/[^/]+/comments/[^/]+)`)
)

var domainRules = []domainRule{
	{
		// arXiv: drop the version suffix and any query so /abs/2301.12345v2
		// and /abs/2301.12345 are one item.
		match: func(h string) bool { return strings.Contains(h, "arxiv.org") },
		rewrite: func(host, path string, _ url.Values) (string, string, url.Values) {
			return host, arxivVersion.ReplaceAllString(path, ""), nil
		},
	},
	{
		// YouTube: every watch/short form becomes youtube.com/watch?v=ID.
		match: func(h string) bool {
			return h == "youtube.com" || h == "m.youtube.com" || h == "youtu.be"
		},
		rewrite: func(host, path string, q url.Values) (string, string, url.Values) {
			short := host == "youtu.be"
			host = "youtube.com"
			if id := q.Get("v"); id != "" {
				return host, "/watch", url.Values{"v": []string{id}}
			}
			if short && path != "" {
				id := strings.SplitN(strings.Trim(path, "/"), "/", 2)[0]
				if id != "" {
					return host, "/watch", url.Values{"v": []string{id}}
				}
			}
			return host, path, nil
		},
	},
	{
		match: func(h string) bool { return strings.Contains(h, "github.com") },
		rewrite: func(host, path string, _ url.Values) (string, string, url.Values) {
			path = gitSuffix.ReplaceAllString(path, "")
			path = treeSuffix.ReplaceAllString(path, "")
			return host, path, nil
		},
	},
	{
		match: func(h string) bool { return strings.Contains(h, "reddit.com") },
		rewrite: func(_, path string, _ url.Values) (string, string, url.Values) {
			if m := redditThread.FindString(path); m != "" {
				path = m
			}
			return "reddit.com", path, nil // query never identifies a thread
		},
	},
	{
		// HN: the id parameter is the only one that identifies anything.
		match: func(h string) bool { return strings.Contains(h, "news.ycombinator.com") },
		rewrite: func(host, path string, q url.Values) (string, string, url.Values) {
			if id := q.Get("id"); id != "" {
				return host, path, url.Values{"id": []string{id}}
			}
			return host, path, nil
		},
	},
	{
		// Medium puts per-share tokens in "source" and "sk"; drop them and
		// let the generic cleaning handle the rest.
		match: func(h string) bool {
			return h == "medium.com" || strings.HasSuffix(h, ".medium.com")
		},
		rewrite: func(host, path string, q url.Values) (string, string, url.Values) {
			q.Del("source")
			q.Del("sk")
			return host, path, stripTracking(q)
		},
	},
}

// Normalize canonicalizes a raw URL for deduplication. The scheme is forced
// to https, the host is lowercased with a leading www. removed, fragments
// are dropped, tracking parameters are stripped, remaining parameters are
// sorted, and domain rules above apply their own rewrites. Normalize is
// idempotent: Normalize(Normalize(u)) == Normalize(u).
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", eddy.ErrInvalidURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", eddy.ErrInvalidURL
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", eddy.ErrInvalidURL
	}

	host := strings.ToLower(u.Host)
	if host == "" {
		return "", eddy.ErrInvalidURL
	}
	host = strings.TrimPrefix(host, "www.")

	path := u.Path
	q := u.Query()

	matched := false
	for _, rule := range domainRules {
		if rule.match(host) {
			host, path, q = rule.rewrite(host, path, q)
			matched = true
			break
		}
	}
	if !matched {
		q = stripTracking(q)
	}

	path = strings.TrimRight(path, "/")

	out := url.URL{
		Scheme:   "https",
		Host:     host,
		Path:     path,
		RawQuery: encodeSorted(q),
	}
	return out.String(), nil
}

// ExtractDomain returns the lowercased host with a leading www. removed, or
// "" when the URL has none. It deliberately does not collapse any other
// subdomains; blog.example.com and example.com group separately.
func ExtractDomain(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Host)
	return strings.TrimPrefix(host, "www.")
}

func stripTracking(q url.Values) url.Values {
	if len(q) == 0 {
		return q
	}
	cleaned := url.Values{}
	for k, vs := range q {
		if _, tracked := trackingParams[strings.ToLower(k)]; tracked {
			continue
		}
		cleaned[k] = vs
	}
	return cleaned
}

// encodeSorted renders query parameters in lexicographic key order so equal
// parameter sets always produce the same canonical string.
func encodeSorted(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vs := q[k]
		sort.Strings(vs)
		for _, v := range vs {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
