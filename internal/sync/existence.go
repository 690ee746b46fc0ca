// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/vitalsync/vitalsync/internal/models"
)

// DateLister is the storage slice the existence cache is built from.
type DateLister interface {
	ListExistingDates(ctx context.Context, userID, metric string, start, end time.Time) (map[string]struct{}, error)
}

// ExistenceCache answers skip-or-fetch in O(1) for one sync run. It is
// built once at sync start with one range query per metric and discarded
// at run end. The cache is owned by a single sync task and is not safe
// for concurrent use.
type ExistenceCache struct {
	sets map[string]map[string]struct{}
}

// BuildExistenceCache seeds the cache for the given metrics and range.
func BuildExistenceCache(ctx context.Context, lister DateLister, userID string, metrics []string, start, end time.Time) (*ExistenceCache, error) {
	cache := &ExistenceCache{sets: make(map[string]map[string]struct{}, len(metrics))}
	for _, metric := range metrics {
		dates, err := lister.ListExistingDates(ctx, userID, metric, start, end)
		if err != nil {
			return nil, fmt.Errorf("build existence cache for %s: %w", metric, err)
		}
		cache.sets[metric] = dates
	}
	return cache, nil
}

// Contains reports whether (metric, date) is already present locally.
func (c *ExistenceCache) Contains(metric string, day time.Time) bool {
	_, ok := c.sets[metric][models.DateKey(day)]
	return ok
}

// Mark records a newly-synced date so later batches in the same run
// never re-fetch a unit satisfied earlier.
func (c *ExistenceCache) Mark(metric string, day time.Time) {
	set, ok := c.sets[metric]
	if !ok {
		set = make(map[string]struct{})
		c.sets[metric] = set
	}
	set[models.DateKey(day)] = struct{}{}
}

// Existing returns the number of cached (metric, date) pairs.
func (c *ExistenceCache) Existing() int {
	n := 0
	for _, set := range c.sets {
		n += len(set)
	}
	return n
}
