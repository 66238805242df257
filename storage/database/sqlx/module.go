package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/didisacademy/academy/core"
	"github.com/didisacademy/academy/core/module"
	"github.com/didisacademy/academy/core/subscription"
)

const moduleColumns = `id, slug, title, description, content_path, is_published, is_lead_magnet, required_levels, sort_order, created_at, updated_at`

type moduleRow struct {
	ID             int64          `db:"id"`
	Slug           string         `db:"slug"`
	Title          string         `db:"title"`
	Description    string         `db:"description"`
	ContentPath    string         `db:"content_path"`
	IsPublished    bool           `db:"is_published"`
	IsLeadMagnet   bool           `db:"is_lead_magnet"`
	RequiredLevels pq.StringArray `db:"required_levels"`
	SortOrder      int            `db:"sort_order"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (row moduleRow) toModule() (module.Module, error) {
	levels, err := subscription.ParseLevels(row.RequiredLevels)
	if err != nil {
		return module.Module{}, errors.Wrapf(err, "module %q", row.Slug)
	}
	return module.Module{
		ID:             row.ID,
		Slug:           row.Slug,
		Title:          row.Title,
		Description:    row.Description,
		ContentPath:    row.ContentPath,
		IsPublished:    row.IsPublished,
		IsLeadMagnet:   row.IsLeadMagnet,
		RequiredLevels: levels,
		SortOrder:      row.SortOrder,
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}, nil
}

type moduleRepository struct {
	db core.DB
}

var _ module.Repository = (*moduleRepository)(nil) // interface compliance check

func NewModuleRepository(db core.DB) module.Repository {
	return &moduleRepository{db: db}
}

func (repo moduleRepository) QueryPublishedForLevel(ctx context.Context, lvl subscription.Level, exec ...core.DBExecutor) ([]module.Module, error) {
	q := `SELECT ` + moduleColumns + ` FROM module
		WHERE is_published AND (is_lead_magnet OR $1 = ANY(required_levels))
		ORDER BY sort_order, id`

	var rows []moduleRow
	if err := sqlx.SelectContext(ctx, getExec(repo.db, exec), &rows, q, string(lvl)); err != nil {
		return nil, dbErr(err, "querying published modules")
	}
	modules := make([]module.Module, 0, len(rows))
	for _, row := range rows {
		m, err := row.toModule()
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, nil
}

func (repo moduleRepository) GetModule(ctx context.Context, filter module.GetFilter, exec ...core.DBExecutor) (module.Module, error) {
	var q string
	var arg interface{}
	switch {
	case filter.ID != 0:
		q, arg = `SELECT `+moduleColumns+` FROM module WHERE id = $1`, filter.ID
	case filter.Slug != "":
		q, arg = `SELECT `+moduleColumns+` FROM module WHERE slug = $1`, filter.Slug
	default:
		return module.Module{}, module.ErrNotFound
	}

	var row moduleRow
	if err := sqlx.GetContext(ctx, getExec(repo.db, exec), &row, q, arg); err != nil {
		return module.Module{}, trapNoRowsErr(err, module.ErrNotFound, "finding module")
	}
	return row.toModule()
}

func (repo moduleRepository) UpsertModule(ctx context.Context, m module.Module, exec ...core.DBExecutor) (module.Module, bool, error) {
	row := moduleRow{
		Slug:           m.Slug,
		Title:          m.Title,
		Description:    m.Description,
		ContentPath:    m.ContentPath,
		IsPublished:    m.IsPublished,
		IsLeadMagnet:   m.IsLeadMagnet,
		RequiredLevels: subscription.Strings(m.RequiredLevels),
		SortOrder:      m.SortOrder,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}

	// xmax is 0 only for freshly inserted tuples
	q := `INSERT INTO module (slug, title, description, content_path, is_published, is_lead_magnet, required_levels, sort_order, created_at, updated_at)
		VALUES (:slug, :title, :description, :content_path, :is_published, :is_lead_magnet, :required_levels, :sort_order, :created_at, :updated_at)
		ON CONFLICT (slug) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			content_path = EXCLUDED.content_path,
			is_published = EXCLUDED.is_published,
			is_lead_magnet = EXCLUDED.is_lead_magnet,
			required_levels = EXCLUDED.required_levels,
			sort_order = EXCLUDED.sort_order,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, (xmax = 0) AS created`

	exe := getExec(repo.db, exec)
	query, args, err := sqlx.Named(q, row)
	if err != nil {
		return module.Module{}, false, dbErr(err, "binding module upsert")
	}

	var res struct {
		ID        int64     `db:"id"`
		CreatedAt time.Time `db:"created_at"`
		Created   bool      `db:"created"`
	}
	if err := sqlx.GetContext(ctx, exe, &res, exe.Rebind(query), args...); err != nil {
		return module.Module{}, false, dbErr(err, "upserting module")
	}
	m.ID = res.ID
	m.CreatedAt = res.CreatedAt.UTC()
	return m, res.Created, nil
}
