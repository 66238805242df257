package inmemdb

import (
	"context"

	"github.com/didisacademy/academy/core"
	"github.com/didisacademy/academy/core/module"
	"github.com/didisacademy/academy/core/subscription"
)

type moduleRepository struct {
	db *moduleTable
}

var _ module.Repository = (*moduleRepository)(nil) // interface compliance check

func NewModuleRepository(db *DB) module.Repository {
	return &moduleRepository{db: db.module}
}

func copyModule(m module.Module) module.Module {
	if m.RequiredLevels != nil {
		m.RequiredLevels = append([]subscription.Level(nil), m.RequiredLevels...)
	}
	return m
}

func (repo *moduleRepository) QueryPublishedForLevel(ctx context.Context, lvl subscription.Level, _ ...core.DBExecutor) ([]module.Module, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	modules := make([]module.Module, 0, len(repo.db.table))
	for _, m := range repo.db.table {
		if m.AvailableTo(lvl) {
			modules = append(modules, copyModule(*m))
		}
	}
	return modules, nil
}

func (repo *moduleRepository) GetModule(ctx context.Context, filter module.GetFilter, _ ...core.DBExecutor) (module.Module, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if filter.ID != 0 {
		if m, ok := repo.db.table[filter.ID]; ok {
			return copyModule(*m), nil
		}
		return module.Module{}, module.ErrNotFound
	}
	if filter.Slug != "" {
		for _, m := range repo.db.table {
			if m.Slug == filter.Slug {
				return copyModule(*m), nil
			}
		}
	}
	return module.Module{}, module.ErrNotFound
}

func (repo *moduleRepository) UpsertModule(ctx context.Context, m module.Module, _ ...core.DBExecutor) (module.Module, bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, existing := range repo.db.table {
		if existing.Slug == m.Slug {
			m.ID = existing.ID
			m.CreatedAt = existing.CreatedAt
			stored := copyModule(m)
			repo.db.table[m.ID] = &stored
			return copyModule(m), false, nil
		}
	}

	repo.db.pkSeq++
	m.ID = repo.db.pkSeq
	stored := copyModule(m)
	repo.db.table[m.ID] = &stored
	return copyModule(m), true, nil
}
