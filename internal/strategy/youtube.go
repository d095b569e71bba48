package strategy

import (
	"context"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

const youtubePageSize = 50

// YoutubeSearch walks the feed with start-index offsets until a fetch fails.
type YoutubeSearch struct {
	base
	query string
}

// NewYoutubeSearch builds a keyword search.
func NewYoutubeSearch(params []string) (crawler.Strategy, error) {
	q, err := keywords(params)
	if err != nil {
		return nil, err
	}
	return &YoutubeSearch{base: base{server: "youtube", interaction: "search"}, query: q}, nil
}

// Fetch issues one page.
func (s *YoutubeSearch) Fetch(ctx context.Context, client crawler.APIClient, cursor crawler.Cursor) (crawler.Page, error) {
	if stopped(ctx) {
		return crawler.Page{Done: true}, nil
	}
	p := max(cursor.Page, 1)
	startIndex := (p-1)*youtubePageSize + 1
	env, err := s.execute(ctx, client, map[string]string{"q": s.query, "start-index": itoa(startIndex)})
	if err != nil {
		return crawler.Page{Done: true}, err
	}
	if !env.Success {
		return failed(env), nil
	}
	return crawler.Page{Envelope: env, Success: true, Next: crawler.Cursor{Page: p + 1}}, nil
}
