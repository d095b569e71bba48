package pipeline

import (
	"sort"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

// DefaultContentPaths locates the list of items inside each API's reply,
// keyed by "server/interaction".
func DefaultContentPaths() map[string]string {
	return map[string]string{
		"facebook/search":               "data",
		"facebook/users":                "",
		"flickr/photos_search":          "photos.photo",
		"google_plus/activities_search": "items",
		"youtube/search":                "feed.entry",
		"twitter-search/search":         "results",
	}
}

func routeKey(server, interaction string) string {
	return server + "/" + interaction
}

// ContentItems extracts the content items of a response. A list yields its
// elements. An object that has an "id" is one item; an object without one is
// treated as keyed by id and yields each object value, in key order.
func ContentItems(env *crawler.ResponseEnvelope, paths map[string]string) []any {
	if env == nil || env.Content == nil {
		return nil
	}
	path := paths[routeKey(env.Meta.Server, env.Meta.Interaction)]
	v, ok := crawler.Lookup(env.Content, path)
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		if _, ok := t["id"]; ok {
			return []any{t}
		}
		keys := make([]string, 0, len(t))
		for k, child := range t {
			if _, isMap := child.(map[string]any); isMap {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		items := make([]any, 0, len(keys))
		for _, k := range keys {
			items = append(items, t[k])
		}
		return items
	default:
		return nil
	}
}
