package module

import (
	"context"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/didisacademy/academy/core"
	"github.com/didisacademy/academy/core/subscription"
)

var (
	// errors
	ErrNotFound = errors.New("module not found")

	nowFunc = time.Now // mockable
)

type (
	Repository interface {
		// QueryPublishedForLevel returns published modules that are lead magnets or require lvl.
		QueryPublishedForLevel(ctx context.Context, lvl subscription.Level, exec ...core.DBExecutor) ([]Module, error)
		GetModule(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Module, error)
		// UpsertModule inserts m or updates the module with the same slug; created reports which one happened.
		UpsertModule(ctx context.Context, m Module, exec ...core.DBExecutor) (mod Module, created bool, err error)
	}

	Service struct {
		repo     Repository
		validate *validator.Validate
	}

	SeedResult struct {
		Created int
		Updated int
	}

	seedFile struct {
		Modules []Seed `yaml:"modules"`
	}
)

func NewService(repo Repository, validate *validator.Validate) *Service {
	return &Service{repo: repo, validate: validate}
}

// CatalogView returns the ranked catalog of lvl. An empty catalog is not an error.
func (svc *Service) CatalogView(ctx context.Context, lvl subscription.Level) ([]Entry, error) {
	if !lvl.IsValid() {
		return nil, errors.Wrapf(subscription.ErrInvalidLevel, "%q", lvl)
	}
	modules, err := svc.repo.QueryPublishedForLevel(ctx, lvl)
	if err != nil {
		return nil, errors.Wrapf(err, "querying %s catalog", lvl)
	}
	return CatalogFor(lvl, modules), nil
}

// Catalogs returns the ranked catalog of every level, read once so that a whole unlock pass
// works against the same snapshot.
func (svc *Service) Catalogs(ctx context.Context) (map[subscription.Level][]Entry, error) {
	catalogs := make(map[subscription.Level][]Entry, len(subscription.Levels))
	for _, lvl := range subscription.Levels {
		entries, err := svc.CatalogView(ctx, lvl)
		if err != nil {
			return nil, err
		}
		catalogs[lvl] = entries
	}
	return catalogs, nil
}

func (svc *Service) GetByID(ctx context.Context, id int64) (Module, error) {
	return svc.repo.GetModule(ctx, GetFilter{ID: id})
}

func (svc *Service) GetBySlug(ctx context.Context, slug string) (Module, error) {
	return svc.repo.GetModule(ctx, GetFilter{Slug: core.CleanString(slug, true /* lower */)})
}

// Upsert creates the module described by seed or updates the existing module with the same slug.
func (svc *Service) Upsert(ctx context.Context, seed Seed, exec ...core.DBExecutor) (Module, bool, error) {
	seed.Clean()
	if err := svc.validate.Struct(seed); err != nil {
		return Module{}, false, err
	}
	levels, err := subscription.ParseLevels(seed.Levels)
	if err != nil {
		return Module{}, false, err
	}

	published := true
	if seed.Published != nil {
		published = *seed.Published
	}
	now := nowFunc().UTC()
	m := Module{
		Slug:           seed.Slug,
		Title:          seed.Title,
		Description:    seed.Description,
		ContentPath:    seed.ContentPath,
		IsPublished:    published,
		IsLeadMagnet:   seed.LeadMagnet,
		RequiredLevels: levels,
		SortOrder:      seed.SortOrder,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return svc.repo.UpsertModule(ctx, m, exec...)
}

// Seed upserts every seed; it stops at the first failure.
func (svc *Service) Seed(ctx context.Context, seeds []Seed, exec ...core.DBExecutor) (SeedResult, error) {
	var res SeedResult
	for _, seed := range seeds {
		_, created, err := svc.Upsert(ctx, seed, exec...)
		if err != nil {
			return res, errors.Wrapf(err, "seeding module %q", seed.Slug)
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	return res, nil
}

// LoadSeeds decodes a YAML seed file:
//
//	modules:
//	  - slug: candlestick-basics
//	    title: Candlestick Basics
//	    content_path: modules/candlestick-basics.html
//	    levels: [basic, premium]
//	    sort_order: 10
func LoadSeeds(r io.Reader) ([]Seed, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, errors.Wrap(err, "decoding seed file")
	}
	return f.Modules, nil
}
