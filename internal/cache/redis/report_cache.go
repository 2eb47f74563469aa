package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/trovewatch/internal/domain"
)

// ReportCache implements domain.ReportCache. The latest report is stored as
// JSON under "report:latest"; each report is also kept under its scan id
// until ttl expires.
type ReportCache struct {
	c   *Client
	ttl time.Duration
}

func NewReportCache(c *Client, ttl time.Duration) *ReportCache {
	return &ReportCache{c: c, ttl: ttl}
}

func (rc *ReportCache) SetLatest(ctx context.Context, result domain.ScanResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("redis: marshal report %s: %w", result.ID, err)
	}
	pipe := rc.c.rdb.TxPipeline()
	pipe.Set(ctx, rc.c.Key("report:latest"), data, 0)
	pipe.Set(ctx, rc.c.Key("report:"+result.ID), data, rc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set report %s: %w", result.ID, err)
	}
	return nil
}

// GetLatest returns domain.ErrNotFound before the first scan completes.
func (rc *ReportCache) GetLatest(ctx context.Context) (domain.ScanResult, error) {
	return rc.get(ctx, "report:latest")
}

// Get returns the cached report for a scan id.
func (rc *ReportCache) Get(ctx context.Context, id string) (domain.ScanResult, error) {
	return rc.get(ctx, "report:"+id)
}

func (rc *ReportCache) get(ctx context.Context, key string) (domain.ScanResult, error) {
	data, err := rc.c.rdb.Get(ctx, rc.c.Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ScanResult{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ScanResult{}, fmt.Errorf("redis: get %s: %w", key, err)
	}
	var res domain.ScanResult
	if err := json.Unmarshal(data, &res); err != nil {
		return domain.ScanResult{}, fmt.Errorf("redis: decode %s: %w", key, err)
	}
	return res, nil
}

var _ domain.ReportCache = (*ReportCache)(nil)
