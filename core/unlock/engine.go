package unlock

import (
	"time"

	"github.com/didisacademy/academy/core/module"
	"github.com/didisacademy/academy/core/subscription"
)

const day = 24 * time.Hour

// TenureDays returns the whole days elapsed from start to now; never negative.
func TenureDays(start, now time.Time) int {
	if !now.After(start) {
		return 0
	}
	return int(now.Sub(start) / day)
}

// Due returns, in catalog order, the modules of catalog that are due at now for a user holding lvl
// since start and that have no record of lvl in existing.
// The n-th catalog entry is due once the tenure reaches n days.
func Due(lvl subscription.Level, start, now time.Time, catalog []module.Entry, existing []Record) []Pending {
	tenure := TenureDays(start, now)
	if tenure <= 0 {
		return nil
	}

	unlocked := make(map[int64]struct{}, len(existing))
	for _, rec := range existing {
		if rec.Level == lvl {
			unlocked[rec.ModuleID] = struct{}{}
		}
	}

	var pending []Pending
	for _, entry := range catalog {
		if entry.Day > tenure {
			break
		}
		if _, ok := unlocked[entry.ID]; ok {
			continue
		}
		pending = append(pending, Pending{Module: entry.Module, Day: entry.Day})
	}
	return pending
}
