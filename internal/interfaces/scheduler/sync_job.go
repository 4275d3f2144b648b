package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"

	"finch/internal/domain/item"
	syncengine "finch/internal/domain/sync"
)

// ItemSyncJob pulls the latest transaction and investment data for a single
// linked item. It implements the Job interface.
type ItemSyncJob struct {
	item   *item.Item
	engine *syncengine.Engine
}

// NewItemSyncJob creates a sync job for the given item.
func NewItemSyncJob(it *item.Item, engine *syncengine.Engine) *ItemSyncJob {
	return &ItemSyncJob{
		item:   it,
		engine: engine,
	}
}

// Execute runs the sync for this job's item. Credential failures and
// concurrent-sync collisions are logged but not reported as job errors,
// since neither is fixed by a retry from the pool.
func (j *ItemSyncJob) Execute(ctx context.Context) error {
	log.Printf("Starting scheduled sync for item %s (%s)", j.item.ID, j.item.InstitutionName)

	stats, err := j.engine.SyncItem(ctx, j.item.ID)
	if err != nil {
		if errors.Is(err, syncengine.ErrCredentialInvalid) {
			log.Printf("Item %s requires reconnection, skipping until credentials are refreshed", j.item.ID)
			return nil
		}
		if errors.Is(err, item.ErrSyncInProgress) {
			log.Printf("Item %s is already syncing, skipping", j.item.ID)
			return nil
		}
		return fmt.Errorf("failed to sync item %s: %w", j.item.ID, err)
	}

	log.Printf("Synced item %s: %d added, %d modified, %d removed",
		j.item.ID, stats.Added, stats.Modified, stats.Removed)
	return nil
}

// Key returns the item ID for this job.
func (j *ItemSyncJob) Key() string {
	return j.item.ID
}

// Description returns a human-readable description of this job.
func (j *ItemSyncJob) Description() string {
	return "item transaction sync"
}

// NewSyncJobProvider returns a job provider that creates one sync job per
// syncable item, plus a purge job for expired reconnection entries.
func NewSyncJobProvider(items item.Repository, engine *syncengine.Engine, stash purgeableStash) func(context.Context) ([]Job, error) {
	return func(ctx context.Context) ([]Job, error) {
		syncable, err := items.ListSyncable(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list syncable items: %w", err)
		}

		jobs := make([]Job, 0, len(syncable)+1)
		for _, it := range syncable {
			jobs = append(jobs, NewItemSyncJob(it, engine))
		}
		if stash != nil {
			jobs = append(jobs, NewStashPurgeJob(stash))
		}
		return jobs, nil
	}
}

// StashPurgeJob removes expired pending-reconnection entries.
type StashPurgeJob struct {
	stash purgeableStash
}

type purgeableStash interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// NewStashPurgeJob creates a purge job for the given stash.
func NewStashPurgeJob(stash purgeableStash) *StashPurgeJob {
	return &StashPurgeJob{stash: stash}
}

// Execute drops expired reconnection entries from the stash.
func (j *StashPurgeJob) Execute(ctx context.Context) error {
	purged, err := j.stash.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge expired reconnections: %w", err)
	}
	if purged > 0 {
		log.Printf("Purged %d expired reconnection entries", purged)
	}
	return nil
}

// Key returns a fixed key since there is only ever one purge job per run.
func (j *StashPurgeJob) Key() string {
	return "stash-purge"
}

// Description returns a human-readable description of this job.
func (j *StashPurgeJob) Description() string {
	return "expired reconnection cleanup"
}
