package module

import (
	"sort"
	"time"

	"github.com/didisacademy/academy/core"
	"github.com/didisacademy/academy/core/subscription"
)

// Module is one static learning module of the catalog.
type Module struct {
	ID             int64                `json:"id"`
	Slug           string               `json:"slug"`
	Title          string               `json:"title"`
	Description    string               `json:"description"`
	ContentPath    string               `json:"content_path"` // static HTML page
	IsPublished    bool                 `json:"is_published"`
	IsLeadMagnet   bool                 `json:"is_lead_magnet"` // available to every level from day 0
	RequiredLevels []subscription.Level `json:"required_levels"`
	SortOrder      int                  `json:"sort_order"`
	CreatedAt      time.Time            `json:"created_at"` // UTC
	UpdatedAt      time.Time            `json:"updated_at"` // UTC
}

// AvailableTo reports whether a subscriber of lvl may ever unlock m.
func (m Module) AvailableTo(lvl subscription.Level) bool {
	return m.IsPublished && (m.IsLeadMagnet || subscription.Contains(m.RequiredLevels, lvl))
}

// Entry is a module ranked within the catalog of a level.
type Entry struct {
	Module
	Day int `json:"day"` // 1-based position; the tenure day it becomes unlockable
}

// CatalogFor ranks the modules available to lvl by sort order, then ID.
// The rank is derived on every read and never stored.
func CatalogFor(lvl subscription.Level, modules []Module) []Entry {
	available := make([]Module, 0, len(modules))
	for _, m := range modules {
		if m.AvailableTo(lvl) {
			available = append(available, m)
		}
	}
	sort.SliceStable(available, func(i, j int) bool {
		if available[i].SortOrder != available[j].SortOrder {
			return available[i].SortOrder < available[j].SortOrder
		}
		return available[i].ID < available[j].ID
	})

	entries := make([]Entry, 0, len(available))
	for i, m := range available {
		entries = append(entries, Entry{Module: m, Day: i + 1})
	}
	return entries
}

// Seed describes a catalog module as written in seed files. Seeding is an upsert by slug.
type Seed struct {
	Slug        string   `json:"slug" yaml:"slug" validate:"required,slug"`
	Title       string   `json:"title" yaml:"title" validate:"required"`
	Description string   `json:"description" yaml:"description"`
	ContentPath string   `json:"content_path" yaml:"content_path" validate:"required"`
	Published   *bool    `json:"published" yaml:"published"`
	LeadMagnet  bool     `json:"lead_magnet" yaml:"lead_magnet"`
	Levels      []string `json:"levels" yaml:"levels" validate:"required_without=LeadMagnet,dive,level"`
	SortOrder   int      `json:"sort_order" yaml:"sort_order" validate:"gte=0"`
}

func (s *Seed) Clean() {
	s.Slug = core.CleanString(s.Slug, true /* lower */)
	s.Title = core.CleanString(s.Title)
	s.Description = core.CleanString(s.Description)
	s.ContentPath = core.CleanString(s.ContentPath)
	s.Levels = core.CleanStrings(s.Levels, true /* lower */)
}

type GetFilter struct {
	ID   int64
	Slug string
}
