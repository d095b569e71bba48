package strategy

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

// FacebookSearch pages through the Graph search endpoint following the
// "until" value embedded in paging.next.
type FacebookSearch struct {
	base
	query string
}

// NewFacebookSearch builds a keyword search.
func NewFacebookSearch(params []string) (crawler.Strategy, error) {
	q, err := keywords(params)
	if err != nil {
		return nil, err
	}
	return &FacebookSearch{base: base{server: "facebook", interaction: "search"}, query: q}, nil
}

// Fetch issues one page.
func (s *FacebookSearch) Fetch(ctx context.Context, client crawler.APIClient, cursor crawler.Cursor) (crawler.Page, error) {
	if stopped(ctx) {
		return crawler.Page{Done: true}, nil
	}
	params := map[string]string{"q": s.query}
	if cursor.Token != "" {
		params["until"] = cursor.Token
	}
	env, err := s.execute(ctx, client, params)
	if err != nil {
		return crawler.Page{Done: true}, err
	}
	if !env.Success {
		return failed(env), nil
	}
	page := crawler.Page{Envelope: env, Success: true}
	next, ok := crawler.LookupString(env.Content, "paging.next")
	if !ok {
		page.Done = true
		return page, nil
	}
	until, err := untilFromNext(next)
	if err != nil {
		page.Done = true
		page.Anomaly = err
		return page, nil
	}
	page.Next = crawler.Cursor{Page: cursor.Page + 1, Token: until}
	return page, nil
}

func untilFromNext(next string) (string, error) {
	u, err := url.Parse(next)
	if err != nil {
		return "", fmt.Errorf("parse paging.next %q: %w", next, err)
	}
	raw := u.Query().Get("until")
	if raw == "" {
		return "", fmt.Errorf("paging.next %q has no until parameter", next)
	}
	if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
		return "", fmt.Errorf("paging.next until %q is not an integer", raw)
	}
	return raw, nil
}

// FacebookUsers fetches the profiles of the given user ids in one request.
type FacebookUsers struct {
	base
	ids string
}

// NewFacebookUsers builds a single-page profile lookup.
func NewFacebookUsers(params []string) (crawler.Strategy, error) {
	ids := make([]string, 0, len(params))
	for _, p := range params {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	if len(ids) == 0 {
		return nil, errNoParameters
	}
	return &FacebookUsers{base: base{server: "facebook", interaction: "users"}, ids: strings.Join(ids, ",")}, nil
}

// Fetch issues the only page.
func (s *FacebookUsers) Fetch(ctx context.Context, client crawler.APIClient, _ crawler.Cursor) (crawler.Page, error) {
	if stopped(ctx) {
		return crawler.Page{Done: true}, nil
	}
	env, err := s.execute(ctx, client, map[string]string{"ids": s.ids})
	if err != nil {
		return crawler.Page{Done: true}, err
	}
	if !env.Success {
		return failed(env), nil
	}
	return crawler.Page{Envelope: env, Success: true, Done: true}, nil
}
