// Package redis mirrors job snapshots into Redis so dashboards outside the
// process can follow crawl progress.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

// StatusMirror implements crawler.StatusMirror. Each job is stored under
// prefix+id with a TTL, and its id is kept in a per-campaign set.
type StatusMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewStatusMirror initializes a Redis-backed StatusMirror.
func NewStatusMirror(addr, prefix string, ttl time.Duration) *StatusMirror {
	return NewStatusMirrorWithClient(redis.NewClient(&redis.Options{Addr: addr}), prefix, ttl)
}

// NewStatusMirrorWithClient wraps an existing client.
func NewStatusMirrorWithClient(client *redis.Client, prefix string, ttl time.Duration) *StatusMirror {
	if prefix == "" {
		prefix = "apicrawler:job:"
	}
	return &StatusMirror{client: client, prefix: prefix, ttl: ttl}
}

// Close closes the Redis client.
func (s *StatusMirror) Close() error {
	return s.client.Close()
}

// Put writes the snapshot and indexes it under its campaign.
func (s *StatusMirror) Put(ctx context.Context, snapshot crawler.JobSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal job snapshot: %w", err)
	}
	campaignKey := s.campaignKey(snapshot.CampaignID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.prefix+snapshot.ID, payload, s.ttl)
	pipe.SAdd(ctx, campaignKey, snapshot.ID)
	if s.ttl > 0 {
		pipe.Expire(ctx, campaignKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror job %s: %w", snapshot.ID, err)
	}
	return nil
}

// Get reads a mirrored snapshot.
func (s *StatusMirror) Get(ctx context.Context, id string) (crawler.JobSnapshot, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return crawler.JobSnapshot{}, false, nil
		}
		return crawler.JobSnapshot{}, false, fmt.Errorf("read job %s: %w", id, err)
	}
	var snapshot crawler.JobSnapshot
	if err := json.Unmarshal([]byte(val), &snapshot); err != nil {
		return crawler.JobSnapshot{}, false, fmt.Errorf("decode job %s: %w", id, err)
	}
	return snapshot, true, nil
}

// CampaignJobs lists the job ids mirrored for a campaign.
func (s *StatusMirror) CampaignJobs(ctx context.Context, campaignID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.campaignKey(campaignID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list campaign %s: %w", campaignID, err)
	}
	return ids, nil
}

func (s *StatusMirror) campaignKey(id string) string {
	return s.prefix + "campaign:" + id
}
