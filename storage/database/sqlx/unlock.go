package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/volatiletech/null/v8"

	"github.com/didisacademy/academy/core"
	"github.com/didisacademy/academy/core/subscription"
	"github.com/didisacademy/academy/core/unlock"
)

const unlockColumns = `id, user_id, module_id, level, unlock_day, unlocked_at, notified, notified_at`

type unlockRow struct {
	ID         int64              `db:"id"`
	UserID     string             `db:"user_id"`
	ModuleID   int64              `db:"module_id"`
	Level      subscription.Level `db:"level"`
	UnlockDay  int                `db:"unlock_day"`
	UnlockedAt time.Time          `db:"unlocked_at"`
	Notified   bool               `db:"notified"`
	NotifiedAt null.Time          `db:"notified_at"`
}

func (row unlockRow) toRecord() unlock.Record {
	rec := unlock.Record{
		ID:         row.ID,
		UserID:     row.UserID,
		ModuleID:   row.ModuleID,
		Level:      row.Level,
		UnlockDay:  row.UnlockDay,
		UnlockedAt: row.UnlockedAt.UTC(),
		Notified:   row.Notified,
	}
	if row.NotifiedAt.Valid {
		rec.NotifiedAt = row.NotifiedAt.Time.UTC()
	}
	return rec
}

func toRecords(rows []unlockRow) []unlock.Record {
	recs := make([]unlock.Record, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, row.toRecord())
	}
	return recs
}

type unlockRepository struct {
	db core.DB
}

var _ unlock.Repository = (*unlockRepository)(nil) // interface compliance check

func NewUnlockRepository(db core.DB) unlock.Repository {
	return &unlockRepository{db: db}
}

func (repo unlockRepository) FindUnlocks(ctx context.Context, userID string, lvl subscription.Level, exec ...core.DBExecutor) ([]unlock.Record, error) {
	q := `SELECT ` + unlockColumns + ` FROM unlock_record WHERE user_id = $1 AND level = $2 ORDER BY unlock_day, id`

	var rows []unlockRow
	if err := sqlx.SelectContext(ctx, getExec(repo.db, exec), &rows, q, userID, string(lvl)); err != nil {
		return nil, dbErr(err, "querying unlock records")
	}
	return toRecords(rows), nil
}

func (repo unlockRepository) InsertUnlock(ctx context.Context, rec unlock.Record, exec ...core.DBExecutor) (unlock.Record, error) {
	q := `INSERT INTO unlock_record (user_id, module_id, level, unlock_day, unlocked_at, notified)
		VALUES ($1, $2, $3, $4, $5, false)
		ON CONFLICT ON CONSTRAINT unlock_record_user_module_level_key DO NOTHING
		RETURNING id`

	var id int64
	err := sqlx.GetContext(ctx, getExec(repo.db, exec), &id, q,
		rec.UserID, rec.ModuleID, string(rec.Level), rec.UnlockDay, rec.UnlockedAt.UTC())
	if err != nil {
		// nothing is returned when the conflict clause swallowed the insert
		return unlock.Record{}, trapNoRowsErr(err, unlock.ErrAlreadyExists, "inserting unlock record")
	}
	rec.ID = id
	rec.Notified = false
	rec.NotifiedAt = time.Time{}
	return rec, nil
}

func (repo unlockRepository) MarkNotified(ctx context.Context, id int64, at time.Time, exec ...core.DBExecutor) error {
	exe := getExec(repo.db, exec)

	res, err := exe.ExecContext(ctx, `UPDATE unlock_record SET notified = true, notified_at = $2 WHERE id = $1 AND NOT notified`, id, at.UTC())
	if err != nil {
		return dbErr(err, "marking unlock record notified")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr(err, "marking unlock record notified")
	}
	if n > 0 {
		return nil
	}

	// already notified, or missing
	var exists bool
	if err := sqlx.GetContext(ctx, exe, &exists, `SELECT EXISTS (SELECT 1 FROM unlock_record WHERE id = $1)`, id); err != nil {
		return dbErr(err, "checking unlock record")
	}
	if !exists {
		return unlock.ErrNotFound
	}
	return nil
}

func (repo unlockRepository) ClaimNotification(ctx context.Context, id int64, at, staleBefore time.Time, exec ...core.DBExecutor) (bool, error) {
	exe := getExec(repo.db, exec)

	// one statement, so concurrent senders in other processes cannot both win
	res, err := exe.ExecContext(ctx, `UPDATE unlock_record SET notify_claimed_at = $2
		WHERE id = $1 AND NOT notified AND (notify_claimed_at IS NULL OR notify_claimed_at < $3)`,
		id, at.UTC(), staleBefore.UTC())
	if err != nil {
		return false, dbErr(err, "claiming unlock record")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr(err, "claiming unlock record")
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	if err := sqlx.GetContext(ctx, exe, &exists, `SELECT EXISTS (SELECT 1 FROM unlock_record WHERE id = $1)`, id); err != nil {
		return false, dbErr(err, "checking unlock record")
	}
	if !exists {
		return false, unlock.ErrNotFound
	}
	return false, nil
}

func (repo unlockRepository) ReleaseNotification(ctx context.Context, id int64, exec ...core.DBExecutor) error {
	_, err := getExec(repo.db, exec).ExecContext(ctx,
		`UPDATE unlock_record SET notify_claimed_at = NULL WHERE id = $1 AND NOT notified`, id)
	return dbErr(err, "releasing unlock record")
}

func (repo unlockRepository) QueryUnnotified(ctx context.Context, filter unlock.UnnotifiedFilter, exec ...core.DBExecutor) ([]unlock.Record, error) {
	conds := []string{"NOT notified"}
	var args []interface{}
	if !filter.UnlockedBefore.IsZero() {
		conds = append(conds, "unlocked_at < ?")
		args = append(args, filter.UnlockedBefore.UTC())
	}

	q := `SELECT ` + unlockColumns + ` FROM unlock_record WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY unlocked_at, id`
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	exe := getExec(repo.db, exec)
	var rows []unlockRow
	if err := sqlx.SelectContext(ctx, exe, &rows, exe.Rebind(q), args...); err != nil {
		return nil, dbErr(err, "querying unnotified unlock records")
	}
	return toRecords(rows), nil
}

func (repo unlockRepository) DeleteUnlocks(ctx context.Context, filter unlock.RollbackFilter, exec ...core.DBExecutor) (int, error) {
	if filter.UserID == "" {
		return 0, unlock.ErrNoUser
	}
	conds := []string{"user_id = ?"}
	args := []interface{}{filter.UserID}
	if filter.Level != "" {
		conds = append(conds, "level = ?")
		args = append(args, string(filter.Level))
	}
	if filter.ModuleID != 0 {
		conds = append(conds, "module_id = ?")
		args = append(args, filter.ModuleID)
	}

	exe := getExec(repo.db, exec)
	res, err := exe.ExecContext(ctx, exe.Rebind(`DELETE FROM unlock_record WHERE `+strings.Join(conds, " AND ")), args...)
	if err != nil {
		return 0, dbErr(err, "deleting unlock records")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbErr(err, "deleting unlock records")
	}
	return int(n), nil
}
