package unlock

import (
	"time"

	"github.com/didisacademy/academy/core/module"
	"github.com/didisacademy/academy/core/subscription"
)

// Record is a ledger entry: module unlocked for a user under a subscription level.
// There is at most one Record per (UserID, ModuleID, Level).
type Record struct {
	ID         int64              `json:"id"`
	UserID     string             `json:"user_id"`
	ModuleID   int64              `json:"module_id"`
	Level      subscription.Level `json:"level"`
	UnlockDay  int                `json:"unlock_day"`
	UnlockedAt time.Time          `json:"unlocked_at"` // UTC
	Notified   bool               `json:"notified"`
	NotifiedAt time.Time          `json:"notified_at"` // UTC; zero until notified
}

// Pending is a module that became due and has no ledger entry yet.
type Pending struct {
	Module module.Module
	Day    int
}

// UnnotifiedFilter selects records whose notification has not been delivered.
type UnnotifiedFilter struct {
	UnlockedBefore time.Time // zero means no bound
	Limit          int       // <= 0 means no limit
}

// RollbackFilter selects ledger entries to delete. UserID is mandatory.
type RollbackFilter struct {
	UserID   string
	Level    subscription.Level // empty means every level
	ModuleID int64              // zero means every module
}

// Report summarizes an unlock pass or a notification retry.
type Report struct {
	StartedAt    time.Time `json:"started_at"`
	Users        int       `json:"users"`
	Skipped      int       `json:"skipped"`
	Failed       int       `json:"failed"`
	Unlocked     int       `json:"unlocked"`
	Duplicates   int       `json:"duplicates"`
	Notified     int       `json:"notified"`
	NotifyFailed int       `json:"notify_failed"`
}

type userReport struct {
	skipped      bool
	unlocked     int
	duplicates   int
	notified     int
	notifyFailed int
}

func (rep *Report) add(ur userReport, err error) {
	rep.Users++
	switch {
	case ur.skipped:
		rep.Skipped++
	case err != nil:
		rep.Failed++
	}
	rep.Unlocked += ur.unlocked
	rep.Duplicates += ur.duplicates
	rep.Notified += ur.notified
	rep.NotifyFailed += ur.notifyFailed
}
