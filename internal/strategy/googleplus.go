package strategy

import (
	"context"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

// GooglePlusSearch follows nextPageToken until the API stops returning one.
type GooglePlusSearch struct {
	base
	query string
}

// NewGooglePlusSearch builds an activities search.
func NewGooglePlusSearch(params []string) (crawler.Strategy, error) {
	q, err := keywords(params)
	if err != nil {
		return nil, err
	}
	return &GooglePlusSearch{base: base{server: "google_plus", interaction: "activities_search"}, query: q}, nil
}

// Fetch issues one page.
func (s *GooglePlusSearch) Fetch(ctx context.Context, client crawler.APIClient, cursor crawler.Cursor) (crawler.Page, error) {
	if stopped(ctx) {
		return crawler.Page{Done: true}, nil
	}
	params := map[string]string{"query": s.query}
	if cursor.Token != "" {
		params["pageToken"] = cursor.Token
	}
	env, err := s.execute(ctx, client, params)
	if err != nil {
		return crawler.Page{Done: true}, err
	}
	if !env.Success {
		return failed(env), nil
	}
	page := crawler.Page{Envelope: env, Success: true}
	token, ok := crawler.LookupString(env.Content, "nextPageToken")
	if !ok {
		page.Done = true
		return page, nil
	}
	page.Next = crawler.Cursor{Page: cursor.Page + 1, Token: token}
	return page, nil
}
