package strategy

import (
	"context"
	"errors"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

var errFlickrPages = errors.New("photos.pages missing or not a number")

// FlickrSearch walks tag search pages up to the page count reported by the
// first response.
type FlickrSearch struct {
	base
	tags string
}

// NewFlickrSearch builds a tag search.
func NewFlickrSearch(params []string) (crawler.Strategy, error) {
	tags, err := keywords(params)
	if err != nil {
		return nil, err
	}
	return &FlickrSearch{base: base{server: "flickr", interaction: "photos_search"}, tags: tags}, nil
}

// Fetch issues one page.
func (s *FlickrSearch) Fetch(ctx context.Context, client crawler.APIClient, cursor crawler.Cursor) (crawler.Page, error) {
	if stopped(ctx) {
		return crawler.Page{Done: true}, nil
	}
	p := cursor.Page
	if p < 1 {
		p = 1
	}
	env, err := s.execute(ctx, client, map[string]string{"tags": s.tags, "page": itoa(p)})
	if err != nil {
		return crawler.Page{Done: true}, err
	}
	if !env.Success {
		return failed(env), nil
	}
	page := crawler.Page{Envelope: env, Success: true}
	pages := cursor.Pages
	if p == 1 {
		n, ok := crawler.LookupInt(env.Content, "photos.pages")
		if !ok {
			page.Done = true
			page.Anomaly = errFlickrPages
			return page, nil
		}
		pages = n
	}
	if p >= pages {
		page.Done = true
		return page, nil
	}
	page.Next = crawler.Cursor{Page: p + 1, Pages: pages}
	return page, nil
}
