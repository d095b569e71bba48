package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

var errNoParameters = errors.New("at least one parameter is required")

type base struct {
	server      string
	interaction string
}

func (b base) Server() string      { return b.server }
func (b base) Interaction() string { return b.interaction }

// execute issues one request. The call runs detached from ctx cancellation so
// a stop request never interrupts a fetch that is already in flight.
func (b base) execute(
	ctx context.Context,
	client crawler.APIClient,
	params map[string]string,
) (*crawler.ResponseEnvelope, error) {
	if err := client.SetServer(b.server); err != nil {
		return nil, fmt.Errorf("set server %s: %w", b.server, err)
	}
	if err := client.SetInteraction(b.interaction); err != nil {
		return nil, fmt.Errorf("set interaction %s: %w", b.interaction, err)
	}
	client.SetParams(params)
	env, err := client.Execute(context.WithoutCancel(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %w", crawler.ErrFetchFailed, b.server, b.interaction, err)
	}
	return env, nil
}

// stopped reports whether the owning job asked to stop.
func stopped(ctx context.Context) bool {
	return ctx.Err() != nil
}

// failed is the terminal page for an unsuccessful fetch.
func failed(env *crawler.ResponseEnvelope) crawler.Page {
	return crawler.Page{Envelope: env, Success: false, Done: true}
}

func keywords(params []string) (string, error) {
	joined := strings.TrimSpace(strings.Join(params, " "))
	if joined == "" {
		return "", errNoParameters
	}
	return joined, nil
}
