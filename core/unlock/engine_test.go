package unlock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/didisacademy/academy/core/module"
	"github.com/didisacademy/academy/core/subscription"
)

func TestTenureDays(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{name: "same instant", now: start, want: 0},
		{name: "in the past", now: start.Add(-48 * time.Hour), want: 0},
		{name: "just under a day", now: start.Add(day - time.Second), want: 0},
		{name: "exactly a day", now: start.Add(day), want: 1},
		{name: "ten days and change", now: start.Add(10*day + 5*time.Hour), want: 10},
		{name: "other zone", now: start.Add(3 * day).In(time.FixedZone("WAT", 3600)), want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TenureDays(start, tt.now))
		})
	}
}

func catalogOf(ids ...int64) []module.Entry {
	entries := make([]module.Entry, 0, len(ids))
	for i, id := range ids {
		entries = append(entries, module.Entry{Module: module.Module{ID: id}, Day: i + 1})
	}
	return entries
}

func pendingIDs(pending []Pending) []int64 {
	var ids []int64
	for _, p := range pending {
		ids = append(ids, p.Module.ID)
	}
	return ids
}

func TestDue(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	catalog := catalogOf(10, 20, 30, 40)
	rec := func(id int64, lvl subscription.Level) Record {
		return Record{ModuleID: id, Level: lvl}
	}

	tests := []struct {
		name     string
		now      time.Time
		catalog  []module.Entry
		existing []Record
		want     []int64
	}{
		{name: "day 0", now: start.Add(time.Hour), catalog: catalog},
		{name: "clock skew", now: start.Add(-time.Hour), catalog: catalog},
		{name: "day 1", now: start.Add(day), catalog: catalog, want: []int64{10}},
		{name: "day 3", now: start.Add(3 * day), catalog: catalog, want: []int64{10, 20, 30}},
		{name: "catch up after missed runs", now: start.Add(30 * day), catalog: catalog, want: []int64{10, 20, 30, 40}},
		{
			name:     "already unlocked",
			now:      start.Add(3 * day),
			catalog:  catalog,
			existing: []Record{rec(10, subscription.Premium), rec(20, subscription.Premium)},
			want:     []int64{30},
		},
		{
			name:     "records of another level do not count",
			now:      start.Add(2 * day),
			catalog:  catalog,
			existing: []Record{rec(10, subscription.Basic)},
			want:     []int64{10, 20},
		},
		{
			name:     "rollback gap is filled",
			now:      start.Add(3 * day),
			catalog:  catalog,
			existing: []Record{rec(10, subscription.Premium), rec(30, subscription.Premium)},
			want:     []int64{20},
		},
		{
			name:     "catalog shrank below records",
			now:      start.Add(5 * day),
			catalog:  catalogOf(10),
			existing: []Record{rec(10, subscription.Premium), rec(20, subscription.Premium), rec(30, subscription.Premium)},
		},
		{name: "empty catalog", now: start.Add(5 * day)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Due(subscription.Premium, start, tt.now, tt.catalog, tt.existing)
			assert.Equal(t, tt.want, pendingIDs(got))
		})
	}
}

func TestDue_idempotent(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(4 * day)
	catalog := catalogOf(1, 2, 3, 4, 5, 6)

	pending := Due(subscription.Elite, start, now, catalog, nil)
	assert.Len(t, pending, 4)

	var existing []Record
	for _, p := range pending {
		assert.Equal(t, p.Day, int(p.Module.ID), "day is the catalog rank")
		existing = append(existing, Record{ModuleID: p.Module.ID, Level: subscription.Elite, UnlockDay: p.Day})
	}
	assert.Empty(t, Due(subscription.Elite, start, now, catalog, existing))
}
