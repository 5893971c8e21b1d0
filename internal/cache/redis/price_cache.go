package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/carbex/carbex/internal/domain"
	"github.com/redis/go-redis/v9"
)

const refPriceTTL = 24 * time.Hour

// PriceCache implements domain.PriceCache using one Redis hash per
// certificate, keyed by source ID, so the latest observation from
// every scrape source is read in a single round trip.
//
// Key schema:
//
//	refprice:{certificate} - hash mapping sourceID -> JSON observation
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func refPriceKey(cert domain.CertificateType) string {
	return "refprice:" + string(cert)
}

// SetPrice stores the latest observation for a source. The hash TTL is
// refreshed on every write so prices outlive a scraper restart but not
// a day of silence.
func (pc *PriceCache) SetPrice(ctx context.Context, p domain.ReferencePrice) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: marshal price %s: %w", p.SourceID, err)
	}

	key := refPriceKey(p.Certificate)

	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, p.SourceID, data)
	pipe.Expire(ctx, key, refPriceTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", p.SourceID, err)
	}
	return nil
}

// GetPrices retrieves the latest observation per source for a
// certificate, sorted by source name. An empty slice means no source
// has reported yet; entries that fail to decode are omitted.
func (pc *PriceCache) GetPrices(ctx context.Context, cert domain.CertificateType) ([]domain.ReferencePrice, error) {
	vals, err := pc.rdb.HGetAll(ctx, refPriceKey(cert)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices %s: %w", cert, err)
	}

	prices := make([]domain.ReferencePrice, 0, len(vals))
	for _, raw := range vals {
		var p domain.ReferencePrice
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		prices = append(prices, p)
	}

	sort.Slice(prices, func(i, j int) bool {
		if prices[i].SourceName != prices[j].SourceName {
			return prices[i].SourceName < prices[j].SourceName
		}
		return prices[i].SourceID < prices[j].SourceID
	})

	return prices, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
