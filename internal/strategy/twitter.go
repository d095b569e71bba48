package strategy

import (
	"context"
	"strconv"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

// TwitterSearch increments the page number until a fetch fails.
type TwitterSearch struct {
	base
	query string
}

// NewTwitterSearch builds a keyword search.
func NewTwitterSearch(params []string) (crawler.Strategy, error) {
	q, err := keywords(params)
	if err != nil {
		return nil, err
	}
	return &TwitterSearch{base: base{server: "twitter-search", interaction: "search"}, query: q}, nil
}

// Fetch issues one page.
func (s *TwitterSearch) Fetch(ctx context.Context, client crawler.APIClient, cursor crawler.Cursor) (crawler.Page, error) {
	if stopped(ctx) {
		return crawler.Page{Done: true}, nil
	}
	p := max(cursor.Page, 1)
	env, err := s.execute(ctx, client, map[string]string{"q": s.query, "page": itoa(p)})
	if err != nil {
		return crawler.Page{Done: true}, err
	}
	if !env.Success {
		return failed(env), nil
	}
	return crawler.Page{Envelope: env, Success: true, Next: crawler.Cursor{Page: p + 1}}, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
