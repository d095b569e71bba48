package pipeline

import (
	"regexp"
	"strings"
)

var absoluteURL = regexp.MustCompile(`(?i)^https?://`)

var quoteArtifacts = strings.NewReplacer("&quot;", "", `"`, "", `\`, "")

// ExtractOutlinks walks a decoded JSON value and returns every string that is
// an absolute http(s) URL, cleaned of quoting artifacts, deduplicated in
// first-seen order.
func ExtractOutlinks(item any) []string {
	seen := make(map[string]struct{})
	var out []string
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case map[string]any:
			for _, child := range t {
				walk(child)
			}
		case []any:
			for _, child := range t {
				walk(child)
			}
		case string:
			if !absoluteURL.MatchString(t) {
				return
			}
			link := quoteArtifacts.Replace(t)
			if _, dup := seen[link]; dup {
				return
			}
			seen[link] = struct{}{}
			out = append(out, link)
		}
	}
	walk(item)
	return out
}

// mergeLinks appends the links in extra that are not already in links.
func mergeLinks(links []string, extra ...string) []string {
	seen := make(map[string]struct{}, len(links))
	for _, l := range links {
		seen[l] = struct{}{}
	}
	for _, l := range extra {
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		links = append(links, l)
	}
	return links
}
