package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/comanda/internal/domain/branch"
)

const (
	getBranchSQL = `SELECT id, name, address, phone FROM branches WHERE id = $1`

	listSchedulesSQL = `SELECT weekday, opens_at, closes_at
		FROM branch_schedules WHERE branch_id = $1
		ORDER BY weekday, opens_at`
)

var _ branch.Repository = (*BranchRepository)(nil)

// BranchRepository implements branch.Repository backed by PostgreSQL.
type BranchRepository struct {
	pool *pgxpool.Pool
}

// NewBranchRepository returns a BranchRepository that uses the given pool.
func NewBranchRepository(pool *pgxpool.Pool) *BranchRepository {
	return &BranchRepository{pool: pool}
}

// Get returns the branch with its weekly schedule.
func (r *BranchRepository) Get(ctx context.Context, id string) (*branch.Branch, error) {
	var b branch.Branch
	err := r.pool.QueryRow(ctx, getBranchSQL, id).Scan(&b.ID, &b.Name, &b.Address, &b.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, branch.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get branch %q", id)
	}

	rows, err := r.pool.Query(ctx, listSchedulesSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "list schedule of branch %q", id)
	}
	b.Schedule, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (branch.ScheduleEntry, error) {
		var (
			e       branch.ScheduleEntry
			weekday int16
			opens   int16
			closes  int16
		)
		err := row.Scan(&weekday, &opens, &closes)
		e.Day = time.Weekday(weekday)
		e.Opens = int(opens)
		e.Closes = int(closes)
		return e, err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan schedule of branch %q", id)
	}
	return &b, nil
}
