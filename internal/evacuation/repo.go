package evacuation

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists status records in Postgres. It implements StatusStore.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repo on top of a shared pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// supersedes decides, against the row as stored right now, whether this
// upsert may replace the status columns: always for plain rows, and for
// manual overrides only when the cycle's evidence ($9, the latest detection
// timestamp) is strictly newer than the override's effective time. This is
// the SQL twin of StatusRecord.overrideTime, evaluated at write time so an
// override written after the cycle read its snapshot still wins.
const supersedes = `(evacuation_status.manually_updated IS NOT TRUE
			OR $9::bigint > GREATEST(COALESCE(evacuation_status.entrance_time, 0), COALESCE(evacuation_status.exit_time, 0)))`

const upsertSQL = `
	INSERT INTO evacuation_status
		(list_id, list_item_id, enter_stream_ids, exit_stream_ids, status, entrance_time, exit_time, manually_updated)
	VALUES ($1, $2, $3::integer[], $4::integer[], $5, $6, $7, $8)
	ON CONFLICT (list_id, list_item_id) DO UPDATE SET
		enter_stream_ids = EXCLUDED.enter_stream_ids,
		exit_stream_ids  = EXCLUDED.exit_stream_ids,
		status           = CASE WHEN ` + supersedes + ` THEN EXCLUDED.status ELSE evacuation_status.status END,
		entrance_time    = CASE WHEN ` + supersedes + ` THEN EXCLUDED.entrance_time ELSE evacuation_status.entrance_time END,
		exit_time        = CASE WHEN ` + supersedes + ` THEN EXCLUDED.exit_time ELSE evacuation_status.exit_time END,
		manually_updated = CASE WHEN ` + supersedes + ` THEN EXCLUDED.manually_updated ELSE evacuation_status.manually_updated END
`

// UpsertAll writes a batch of upserts in one transaction. The conflict guard
// keeps protected overrides intact while the stream audit columns always
// refresh. The batch is all-or-nothing: a failure rolls back every row of
// this call.
func (r *Repository) UpsertAll(ctx context.Context, upserts []Upsert) error {
	if len(upserts) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert batch: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, u := range upserts {
		rec := u.Record
		batch.Queue(upsertSQL,
			rec.ListID, rec.PersonID,
			rec.EnterStreamIDs, rec.ExitStreamIDs,
			rec.Status, rec.EntranceTime, rec.ExitTime, rec.ManuallyUpdated,
			u.Evidence,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert batch of %d: %w", len(upserts), err)
	}
	return tx.Commit(ctx)
}

// FindByList returns every record for a list.
func (r *Repository) FindByList(ctx context.Context, listID int64) ([]StatusRecord, error) {
	return r.query(ctx, `
		SELECT list_id, list_item_id, enter_stream_ids, exit_stream_ids,
		       status, entrance_time, exit_time, manually_updated
		FROM evacuation_status
		WHERE list_id = $1
		ORDER BY list_item_id
	`, listID)
}

// FindActiveByList returns records with status = true for a list.
func (r *Repository) FindActiveByList(ctx context.Context, listID int64) ([]StatusRecord, error) {
	return r.query(ctx, `
		SELECT list_id, list_item_id, enter_stream_ids, exit_stream_ids,
		       status, entrance_time, exit_time, manually_updated
		FROM evacuation_status
		WHERE list_id = $1 AND status = TRUE
		ORDER BY list_item_id
	`, listID)
}

// Exists reports whether a record is present for the composite key.
func (r *Repository) Exists(ctx context.Context, listID, personID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM evacuation_status WHERE list_id = $1 AND list_item_id = $2)
	`, listID, personID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check record exists: %w", err)
	}
	return exists, nil
}

// SetManualStatus writes or creates an override record. The effective time
// lands in entrance_time for on-site overrides and exit_time for off-site
// ones; the opposite column is cleared. The stored stream sets are left for
// the next refresh cycle to fill in. The single upsert keeps the write atomic
// against a concurrently running refresh.
func (r *Repository) SetManualStatus(ctx context.Context, listID, personID int64, status bool, effectiveTime int64) error {
	var entranceTime, exitTime *int64
	if status {
		entranceTime = &effectiveTime
	} else {
		exitTime = &effectiveTime
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO evacuation_status (list_id, list_item_id, status, entrance_time, exit_time, manually_updated)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (list_id, list_item_id) DO UPDATE SET
			status           = EXCLUDED.status,
			entrance_time    = EXCLUDED.entrance_time,
			exit_time        = EXCLUDED.exit_time,
			manually_updated = TRUE
	`, listID, personID, status, entranceTime, exitTime)
	if err != nil {
		return fmt.Errorf("write manual status: %w", err)
	}
	return nil
}

func (r *Repository) query(ctx context.Context, sql string, args ...any) ([]StatusRecord, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query status records: %w", err)
	}
	defer rows.Close()

	var records []StatusRecord
	for rows.Next() {
		var rec StatusRecord
		if err := rows.Scan(
			&rec.ListID, &rec.PersonID,
			&rec.EnterStreamIDs, &rec.ExitStreamIDs,
			&rec.Status, &rec.EntranceTime, &rec.ExitTime, &rec.ManuallyUpdated,
		); err != nil {
			return nil, fmt.Errorf("scan status record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

var _ StatusStore = (*Repository)(nil)
