package unlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/didisacademy/academy/core"
	"github.com/didisacademy/academy/core/module"
	"github.com/didisacademy/academy/core/subscription"
	"github.com/didisacademy/academy/core/user"
)

var (
	// errors
	ErrNotFound      = errors.New("unlock record not found")
	ErrAlreadyExists = errors.New("module already unlocked for this user and level")
	ErrRunAborted    = errors.New("unlock pass aborted")
	ErrNoUser        = errors.New("a user is required")

	errClaimed = errors.New("notification already being sent")

	nowFunc = time.Now // mockable
)

const (
	RunKindPass  = "pass"
	RunKindRetry = "retry"

	defaultClaimTTL = 10 * time.Minute
)

type (
	Repository interface {
		// FindUnlocks returns the records of a user for lvl, by ascending unlock day.
		FindUnlocks(ctx context.Context, userID string, lvl subscription.Level, exec ...core.DBExecutor) ([]Record, error)
		// InsertUnlock returns ErrAlreadyExists if (user, module, level) is already recorded.
		InsertUnlock(ctx context.Context, rec Record, exec ...core.DBExecutor) (Record, error)
		// MarkNotified flips the notified flag once; marking a notified record again is a no-op.
		MarkNotified(ctx context.Context, id int64, at time.Time, exec ...core.DBExecutor) error
		// ClaimNotification reserves an unnotified record for sending. It reports false when the record
		// is notified already, or claimed at or after staleBefore by another sender.
		ClaimNotification(ctx context.Context, id int64, at, staleBefore time.Time, exec ...core.DBExecutor) (bool, error)
		// ReleaseNotification drops the claim of an unnotified record so it can be retried right away.
		ReleaseNotification(ctx context.Context, id int64, exec ...core.DBExecutor) error
		// QueryUnnotified returns records pending notification, oldest first.
		QueryUnnotified(ctx context.Context, filter UnnotifiedFilter, exec ...core.DBExecutor) ([]Record, error)
		DeleteUnlocks(ctx context.Context, filter RollbackFilter, exec ...core.DBExecutor) (int, error)
	}

	// UserSource reads users; it never writes them.
	UserSource interface {
		QueryActive(ctx context.Context) ([]user.User, error)
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	// CatalogSource reads the module catalog; it never writes it.
	CatalogSource interface {
		Catalogs(ctx context.Context) (map[subscription.Level][]module.Entry, error)
		GetByID(ctx context.Context, id int64) (module.Module, error)
	}

	// Notifier tells a user that a module was unlocked. A nil error means the notification was delivered.
	Notifier interface {
		SendUnlockNotification(ctx context.Context, usr user.User, mod module.Module, unlockDay int) error
	}

	// Observer records the outcome of each run.
	Observer interface {
		RecordRun(kind string, rep Report, took time.Duration, err error)
	}

	Deps struct {
		DB       core.DB // nil for in-memory storage
		Repo     Repository
		Users    UserSource
		Catalog  CatalogSource
		Notifier Notifier
		Observer Observer
		Logger   core.Logger
		Workers  int           // users processed concurrently; defaults to 1
		ClaimTTL time.Duration // after this, a send that never completed can be claimed again
	}

	Service struct {
		db       core.DB
		repo     Repository
		users    UserSource
		catalog  CatalogSource
		notifier Notifier
		observer Observer
		logger   core.Logger
		workers  int
		claimTTL time.Duration
	}
)

type nopObserver struct{}

func (nopObserver) RecordRun(string, Report, time.Duration, error) {}

func NewService(deps Deps) *Service {
	svc := &Service{
		db:       deps.DB,
		repo:     deps.Repo,
		users:    deps.Users,
		catalog:  deps.Catalog,
		notifier: deps.Notifier,
		observer: deps.Observer,
		logger:   deps.Logger,
		workers:  deps.Workers,
		claimTTL: deps.ClaimTTL,
	}
	if svc.observer == nil {
		svc.observer = nopObserver{}
	}
	if svc.workers <= 0 {
		svc.workers = 1
	}
	if svc.claimTTL <= 0 {
		svc.claimTTL = defaultClaimTTL
	}
	return svc
}

// RunPass unlocks every module that became due for every active user, then notifies them.
// Each user is committed independently: a failing user is logged and the pass goes on.
// Only a failure to read the users or the catalog aborts the pass.
func (svc *Service) RunPass(ctx context.Context) (Report, error) {
	start := nowFunc().UTC()
	rep, err := svc.runPass(ctx, start)
	took := nowFunc().Sub(start)
	svc.observer.RecordRun(RunKindPass, rep, took, err)

	if err != nil {
		svc.logger.Error(fmt.Sprintf("unlock pass failed after %s: %v", took, err), err)
	} else {
		svc.logger.Info(fmt.Sprintf(
			"unlock pass done in %s: users=%d skipped=%d failed=%d unlocked=%d duplicates=%d notified=%d notify_failed=%d",
			took, rep.Users, rep.Skipped, rep.Failed, rep.Unlocked, rep.Duplicates, rep.Notified, rep.NotifyFailed,
		))
	}
	return rep, err
}

func (svc *Service) runPass(ctx context.Context, now time.Time) (Report, error) {
	rep := Report{StartedAt: now}

	users, err := svc.users.QueryActive(ctx)
	if err != nil {
		return rep, errors.Wrapf(ErrRunAborted, "querying active users: %v", err)
	}
	catalogs, err := svc.catalog.Catalogs(ctx)
	if err != nil {
		return rep, errors.Wrapf(ErrRunAborted, "reading catalog: %v", err)
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(svc.workers)

	for _, usr := range users {
		if ctx.Err() != nil {
			break
		}
		usr := usr
		g.Go(func() error {
			ur, err := svc.processUserSafely(ctx, usr, catalogs, now)
			if err != nil {
				if ur.skipped {
					svc.logger.Warn(fmt.Sprintf("skipping user %s: %v", usr.ID, err), usr)
				} else {
					svc.logger.Error(fmt.Sprintf("processing user %s: %v", usr.ID, err), err, usr)
				}
			}
			mu.Lock()
			rep.add(ur, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err = ctx.Err(); err != nil {
		return rep, errors.Wrap(err, "unlock pass interrupted")
	}
	return rep, nil
}

func (svc *Service) processUserSafely(ctx context.Context, usr user.User, catalogs map[subscription.Level][]module.Entry, now time.Time) (ur userReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return svc.processUser(ctx, usr, catalogs, now)
}

func (svc *Service) processUser(ctx context.Context, usr user.User, catalogs map[subscription.Level][]module.Entry, now time.Time) (userReport, error) {
	var ur userReport

	lvl, started, err := usr.CurrentLevelStart()
	if err != nil {
		ur.skipped = true
		return ur, err
	}

	existing, err := svc.repo.FindUnlocks(ctx, usr.ID, lvl)
	if err != nil {
		return ur, errors.Wrap(err, "finding unlocks")
	}
	pending := Due(lvl, started, now, catalogs[lvl], existing)
	if len(pending) == 0 {
		return ur, nil
	}

	created, dups, err := svc.persist(ctx, usr, lvl, pending, now)
	if err != nil {
		return ur, err
	}
	ur.unlocked = len(created)
	ur.duplicates = dups

	modules := make(map[int64]module.Module, len(pending))
	for _, p := range pending {
		modules[p.Module.ID] = p.Module
	}
	for _, rec := range created {
		err = svc.notify(ctx, usr, modules[rec.ModuleID], rec)
		switch {
		case err == errClaimed: // a concurrent retry sends it
		case err != nil:
			ur.notifyFailed++
		default:
			ur.notified++
		}
	}
	return ur, nil
}

// persist records pending unlocks in one transaction, in catalog order.
// Entries recorded concurrently by another run are counted as duplicates and left to that run.
func (svc *Service) persist(ctx context.Context, usr user.User, lvl subscription.Level, pending []Pending, now time.Time) ([]Record, int, error) {
	var created []Record
	var dups int

	err := core.RunInTx(ctx, svc.db, func(exec core.DBExecutor) error {
		created, dups = created[:0], 0
		for _, p := range pending {
			rec, err := svc.repo.InsertUnlock(ctx, Record{
				UserID:     usr.ID,
				ModuleID:   p.Module.ID,
				Level:      lvl,
				UnlockDay:  p.Day,
				UnlockedAt: now,
			}, exec)
			if errors.Cause(err) == ErrAlreadyExists {
				dups++
				continue
			}
			if err != nil {
				return errors.Wrapf(err, "inserting unlock of module %d", p.Module.ID)
			}
			created = append(created, rec)
		}
		return nil
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "persisting unlocks")
	}
	return created, dups, nil
}

// notify claims rec, sends its notification and marks it on success.
// A failed send releases the claim and leaves rec unnotified. errClaimed means another sender holds rec.
func (svc *Service) notify(ctx context.Context, usr user.User, mod module.Module, rec Record) error {
	now := nowFunc().UTC()
	claimed, err := svc.repo.ClaimNotification(ctx, rec.ID, now, now.Add(-svc.claimTTL))
	if err != nil {
		err = errors.Wrapf(err, "claiming unlock %d", rec.ID)
		svc.logger.Error(err.Error(), err, usr)
		return err
	}
	if !claimed {
		return errClaimed
	}

	if err := svc.notifier.SendUnlockNotification(ctx, usr, mod, rec.UnlockDay); err != nil {
		svc.logger.Warn(fmt.Sprintf("notifying user %s of module %q: %v", usr.ID, mod.Slug, err), usr)
		if rErr := svc.repo.ReleaseNotification(context.Background(), rec.ID); rErr != nil {
			svc.logger.Error(fmt.Sprintf("releasing unlock %d: %v", rec.ID, rErr), rErr, usr)
		}
		return err
	}
	if err := svc.repo.MarkNotified(ctx, rec.ID, nowFunc().UTC()); err != nil {
		err = errors.Wrapf(err, "marking unlock %d notified", rec.ID)
		svc.logger.Error(err.Error(), err, usr)
		return err
	}
	return nil
}

// RetryNotifications resends the notifications of records unlocked before `before` that are still unnotified.
// Records whose user is gone or inactive are left untouched.
func (svc *Service) RetryNotifications(ctx context.Context, before time.Time, limit int) (Report, error) {
	start := nowFunc().UTC()
	rep, err := svc.retryNotifications(ctx, start, before, limit)
	took := nowFunc().Sub(start)
	svc.observer.RecordRun(RunKindRetry, rep, took, err)

	if err != nil {
		svc.logger.Error(fmt.Sprintf("notification retry failed after %s: %v", took, err), err)
	} else if rep.Notified+rep.NotifyFailed > 0 {
		svc.logger.Info(fmt.Sprintf("notification retry done in %s: notified=%d notify_failed=%d skipped=%d",
			took, rep.Notified, rep.NotifyFailed, rep.Skipped))
	}
	return rep, err
}

func (svc *Service) retryNotifications(ctx context.Context, now, before time.Time, limit int) (Report, error) {
	rep := Report{StartedAt: now}

	recs, err := svc.repo.QueryUnnotified(ctx, UnnotifiedFilter{UnlockedBefore: before, Limit: limit})
	if err != nil {
		return rep, errors.Wrap(err, "querying unnotified unlocks")
	}

	users := make(map[string]*user.User)
	modules := make(map[int64]module.Module)
	for _, rec := range recs {
		if err = ctx.Err(); err != nil {
			return rep, errors.Wrap(err, "notification retry interrupted")
		}

		usr, ok := users[rec.UserID]
		if !ok {
			u, err := svc.users.GetByID(ctx, rec.UserID)
			if err != nil && errors.Cause(err) != user.ErrNotFound {
				return rep, errors.Wrapf(err, "getting user %s", rec.UserID)
			}
			if err == nil && u.IsActive {
				usr = &u
			}
			users[rec.UserID] = usr
		}
		if usr == nil {
			rep.Skipped++
			continue
		}

		mod, ok := modules[rec.ModuleID]
		if !ok {
			mod, err = svc.catalog.GetByID(ctx, rec.ModuleID)
			if err != nil {
				if errors.Cause(err) == module.ErrNotFound {
					rep.Skipped++
					continue
				}
				return rep, errors.Wrapf(err, "getting module %d", rec.ModuleID)
			}
			modules[rec.ModuleID] = mod
		}

		recipient := *usr
		recipient.Level = rec.Level // the level the module was unlocked under
		err = svc.notify(ctx, recipient, mod, rec)
		switch {
		case err == errClaimed:
			rep.Skipped++
		case err != nil:
			rep.NotifyFailed++
		default:
			rep.Notified++
		}
	}
	return rep, nil
}

// UserUnlocks returns the ledger of a user for their current level.
func (svc *Service) UserUnlocks(ctx context.Context, userID string) ([]Record, error) {
	usr, err := svc.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return svc.repo.FindUnlocks(ctx, usr.ID, usr.Level)
}

// Rollback deletes ledger entries. It is an administrative operation: the next pass unlocks the
// deleted modules again if they are still due.
func (svc *Service) Rollback(ctx context.Context, filter RollbackFilter) (int, error) {
	filter.UserID = core.CleanString(filter.UserID)
	if filter.UserID == "" {
		return 0, ErrNoUser
	}
	if filter.Level != "" && !filter.Level.IsValid() {
		return 0, errors.Wrapf(subscription.ErrInvalidLevel, "%q", filter.Level)
	}

	n, err := svc.repo.DeleteUnlocks(ctx, filter)
	if err != nil {
		return 0, errors.Wrap(err, "deleting unlocks")
	}
	svc.logger.Warn(fmt.Sprintf("rolled back %d unlock(s) of user %s (level=%q module=%d)", n, filter.UserID, filter.Level, filter.ModuleID))
	return n, nil
}
