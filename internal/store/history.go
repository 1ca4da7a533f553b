package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/rileyhilliard/fleetwatch/internal/errors"
	"github.com/rileyhilliard/fleetwatch/internal/model"
)

// HistoryRow is one usage record as of one collection.
type HistoryRow struct {
	CollectedAt      time.Time `json:"collected_at"`
	Cluster          string    `json:"cluster"`
	URI              string    `json:"uri"`
	System           string    `json:"system"`
	Subproject       string    `json:"subproject"`
	HoursAllocated   int64     `json:"hours_allocated"`
	HoursUsed        int64     `json:"hours_used"`
	HoursRemaining   int64     `json:"hours_remaining"`
	PercentRemaining float64   `json:"percent_remaining"`
}

// HistoryStore appends usage records to a PostgreSQL table so allocation
// burn can be charted over time. The schema is:
//
//	CREATE TABLE IF NOT EXISTS cluster_usage_history (
//	  id                BIGSERIAL PRIMARY KEY,
//	  collected_at      TIMESTAMPTZ      NOT NULL,
//	  cluster           TEXT             NOT NULL,
//	  uri               TEXT             NOT NULL,
//	  system            TEXT             NOT NULL,
//	  subproject        TEXT             NOT NULL,
//	  hours_allocated   BIGINT           NOT NULL,
//	  hours_used        BIGINT           NOT NULL,
//	  hours_remaining   BIGINT           NOT NULL,
//	  percent_remaining DOUBLE PRECISION NOT NULL
//	);
//
// A unique index on (collected_at, cluster, system, subproject) keeps a
// document that is saved again, as happens when a fast refresh merges
// one cluster into an otherwise unchanged snapshot, from adding rows
// twice.
type HistoryStore struct {
	db    *sql.DB
	table string

	mu        sync.Mutex
	lastSaved map[string]time.Time // cluster URI -> newest collection saved
}

// OpenHistory connects to dsn with the pgx driver.
func OpenHistory(ctx context.Context, dsn, table string) (*HistoryStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrPersist,
			"Couldn't open the history database", "Check history.dsn")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.WrapWithCode(err, errors.ErrPersist,
			"Couldn't reach the history database", "Check history.dsn and that PostgreSQL is running")
	}
	return NewHistoryStore(db, table), nil
}

// NewHistoryStore wraps an existing *sql.DB. table must be a plain SQL
// identifier; the config layer validates it.
func NewHistoryStore(db *sql.DB, table string) *HistoryStore {
	return &HistoryStore{db: db, table: table, lastSaved: make(map[string]time.Time)}
}

// Name identifies the sink in logs and metrics.
func (s *HistoryStore) Name() string { return "history" }

// EnsureSchema creates the table and its indexes if missing.
func (s *HistoryStore) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  id                BIGSERIAL PRIMARY KEY,
  collected_at      TIMESTAMPTZ      NOT NULL,
  cluster           TEXT             NOT NULL,
  uri               TEXT             NOT NULL,
  system            TEXT             NOT NULL,
  subproject        TEXT             NOT NULL,
  hours_allocated   BIGINT           NOT NULL,
  hours_used        BIGINT           NOT NULL,
  hours_remaining   BIGINT           NOT NULL,
  percent_remaining DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_cluster_time ON %[1]s (cluster, collected_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS %[1]s_dedup ON %[1]s (collected_at, cluster, system, subproject);
`, s.table)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return errors.WrapWithCode(err, errors.ErrPersist,
			fmt.Sprintf("Couldn't create the history table %s", s.table),
			"The history user needs CREATE on the target schema")
	}
	return nil
}

// Save inserts one row per usage record of every document, in a single
// transaction. Documents without usage records add nothing, and so do
// documents no newer than the last one saved for the same cluster.
func (s *HistoryStore) Save(ctx context.Context, snap *model.FleetSnapshot) error {
	stmt := fmt.Sprintf(`
INSERT INTO %s (
  collected_at, cluster, uri, system, subproject,
  hours_allocated, hours_used, hours_remaining, percent_remaining
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (collected_at, cluster, system, subproject) DO NOTHING
`, s.table)

	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []model.ClusterDocument
	for _, doc := range snap.Documents() {
		last, seen := s.lastSaved[doc.Metadata.URI]
		if seen && !doc.Metadata.Timestamp.After(last) {
			continue
		}
		pending = append(pending, doc)
	}
	if len(pending) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrPersist,
			"Couldn't start a history transaction", "Check that PostgreSQL is running")
	}
	defer func() { _ = tx.Rollback() }()

	for _, doc := range pending {
		for _, u := range doc.Usage.Systems {
			_, err := tx.ExecContext(ctx, stmt,
				doc.Metadata.Timestamp,
				doc.Metadata.Name,
				doc.Metadata.URI,
				u.System,
				u.Subproject,
				u.HoursAllocated,
				u.HoursUsed,
				u.HoursRemaining,
				u.PercentRemaining,
			)
			if err != nil {
				return errors.WrapWithCode(err, errors.ErrPersist,
					fmt.Sprintf("Couldn't save history for %s/%s", doc.Metadata.Name, u.Subproject), "")
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapWithCode(err, errors.ErrPersist, "Couldn't commit history rows", "")
	}
	for _, doc := range pending {
		s.lastSaved[doc.Metadata.URI] = doc.Metadata.Timestamp
	}
	return nil
}

// Recent returns up to limit rows for cluster, newest first.
func (s *HistoryStore) Recent(ctx context.Context, cluster string, limit int) ([]HistoryRow, error) {
	q := fmt.Sprintf(`
SELECT
  collected_at, cluster, uri, system, subproject,
  hours_allocated, hours_used, hours_remaining, percent_remaining
FROM %s
WHERE cluster = $1
ORDER BY collected_at DESC
LIMIT $2
`, s.table)

	rows, err := s.db.QueryContext(ctx, q, cluster, limit)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrPersist,
			fmt.Sprintf("Couldn't read history for %s", cluster), "Run fleetwatch doctor to check the history database")
	}
	defer rows.Close()

	out := []HistoryRow{}
	for rows.Next() {
		var r HistoryRow
		if err := rows.Scan(
			&r.CollectedAt,
			&r.Cluster,
			&r.URI,
			&r.System,
			&r.Subproject,
			&r.HoursAllocated,
			&r.HoursUsed,
			&r.HoursRemaining,
			&r.PercentRemaining,
		); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrPersist, "Couldn't read a history row", "")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrPersist,
			fmt.Sprintf("Couldn't read history for %s", cluster), "")
	}
	return out, nil
}

// Close closes the database handle.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}
