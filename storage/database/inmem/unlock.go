package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/didisacademy/academy/core"
	"github.com/didisacademy/academy/core/subscription"
	"github.com/didisacademy/academy/core/unlock"
)

type unlockRepository struct {
	db *unlockTable
}

var _ unlock.Repository = (*unlockRepository)(nil) // interface compliance check

func NewUnlockRepository(db *DB) unlock.Repository {
	return &unlockRepository{db: db.unlock}
}

func (repo *unlockRepository) FindUnlocks(ctx context.Context, userID string, lvl subscription.Level, _ ...core.DBExecutor) ([]unlock.Record, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	recs := make([]unlock.Record, 0)
	for _, rec := range repo.db.table {
		if rec.UserID == userID && rec.Level == lvl {
			recs = append(recs, *rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].UnlockDay != recs[j].UnlockDay {
			return recs[i].UnlockDay < recs[j].UnlockDay
		}
		return recs[i].ID < recs[j].ID
	})
	return recs, nil
}

func (repo *unlockRepository) InsertUnlock(ctx context.Context, rec unlock.Record, _ ...core.DBExecutor) (unlock.Record, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	key := unlockKey{userID: rec.UserID, moduleID: rec.ModuleID, level: string(rec.Level)}
	if _, ok := repo.db.unique[key]; ok {
		return unlock.Record{}, unlock.ErrAlreadyExists
	}

	repo.db.pkSeq++
	rec.ID = repo.db.pkSeq
	rec.Notified = false
	rec.NotifiedAt = time.Time{}
	repo.db.table[rec.ID] = &rec
	repo.db.unique[key] = rec.ID
	return rec, nil
}

func (repo *unlockRepository) MarkNotified(ctx context.Context, id int64, at time.Time, _ ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	rec, ok := repo.db.table[id]
	if !ok {
		return unlock.ErrNotFound
	}
	if !rec.Notified {
		rec.Notified = true
		rec.NotifiedAt = at.UTC()
	}
	return nil
}

func (repo *unlockRepository) ClaimNotification(ctx context.Context, id int64, at, staleBefore time.Time, _ ...core.DBExecutor) (bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	rec, ok := repo.db.table[id]
	if !ok {
		return false, unlock.ErrNotFound
	}
	if rec.Notified {
		return false, nil
	}
	if claimed, ok := repo.db.claims[id]; ok && !claimed.Before(staleBefore) {
		return false, nil
	}
	repo.db.claims[id] = at.UTC()
	return true, nil
}

func (repo *unlockRepository) ReleaseNotification(ctx context.Context, id int64, _ ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if rec, ok := repo.db.table[id]; ok && !rec.Notified {
		delete(repo.db.claims, id)
	}
	return nil
}

func (repo *unlockRepository) QueryUnnotified(ctx context.Context, filter unlock.UnnotifiedFilter, _ ...core.DBExecutor) ([]unlock.Record, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	recs := make([]unlock.Record, 0)
	for _, rec := range repo.db.table {
		if rec.Notified {
			continue
		}
		if !filter.UnlockedBefore.IsZero() && !rec.UnlockedAt.Before(filter.UnlockedBefore) {
			continue
		}
		recs = append(recs, *rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].UnlockedAt.Equal(recs[j].UnlockedAt) {
			return recs[i].UnlockedAt.Before(recs[j].UnlockedAt)
		}
		return recs[i].ID < recs[j].ID
	})
	if filter.Limit > 0 && len(recs) > filter.Limit {
		recs = recs[:filter.Limit]
	}
	return recs, nil
}

func (repo *unlockRepository) DeleteUnlocks(ctx context.Context, filter unlock.RollbackFilter, _ ...core.DBExecutor) (int, error) {
	if filter.UserID == "" {
		return 0, unlock.ErrNoUser
	}
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var n int
	for id, rec := range repo.db.table {
		if rec.UserID != filter.UserID ||
			(filter.Level != "" && rec.Level != filter.Level) ||
			(filter.ModuleID != 0 && rec.ModuleID != filter.ModuleID) {
			continue
		}
		delete(repo.db.table, id)
		delete(repo.db.claims, id)
		delete(repo.db.unique, unlockKey{userID: rec.UserID, moduleID: rec.ModuleID, level: string(rec.Level)})
		n++
	}
	return n, nil
}
