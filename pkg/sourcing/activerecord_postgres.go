package sourcing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const postgresUniqueViolation = "23505"

// PostgresActiveRecordStrategy is the relational ActiveRecordStrategy
// implementation (spec.md §6), backed by a single table with a unique index
// on (sequence_id, position). It mirrors the teacher's pgxpool-based
// eventStore in pool handling, transaction shape and row scanning.
type PostgresActiveRecordStrategy struct {
	pool             *pgxpool.Pool
	table            string
	log              *logrus.Entry
	statementTimeout time.Duration
}

// PostgresOption configures a PostgresActiveRecordStrategy.
type PostgresOption func(*PostgresActiveRecordStrategy)

// WithTable overrides the default "sequenced_items" table name, letting one
// pool back several independently-keyed strategies (for example one table
// per entity-version stream and one per timestamp stream).
func WithTable(name string) PostgresOption {
	return func(s *PostgresActiveRecordStrategy) { s.table = name }
}

// WithLogger attaches a structured logger used for Debug-level tracing of
// queries and Warn-level tracing of conflicts.
func WithLogger(log *logrus.Entry) PostgresOption {
	return func(s *PostgresActiveRecordStrategy) { s.log = log }
}

// WithStatementTimeout bounds every Append, AppendBatch, Get and GetItems
// call with a per-statement context.WithTimeout, the same pattern
// NewPostgresActiveRecordStrategy already uses for its connection ping.
// AllItems is excluded: it hands back a streaming cursor whose lifetime is
// the caller's to bound, not a single statement's.
func WithStatementTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresActiveRecordStrategy) { s.statementTimeout = d }
}

func (s *PostgresActiveRecordStrategy) withStatementTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.statementTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.statementTimeout)
}

// NewPostgresActiveRecordStrategy builds a strategy backed by pool, pinging
// it with a short timeout the way the teacher's NewEventStore does.
func NewPostgresActiveRecordStrategy(ctx context.Context, pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresActiveRecordStrategy, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		return nil, &StorageError{StoreError{Op: "NewPostgresActiveRecordStrategy", Err: fmt.Errorf("unable to connect to database: %w", err)}}
	}

	s := &PostgresActiveRecordStrategy{pool: pool, table: "sequenced_items", log: logrus.NewEntry(logrus.StandardLogger())}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Append implements ActiveRecordStrategy.
func (s *PostgresActiveRecordStrategy) Append(ctx context.Context, item SequencedItem) error {
	ctx, cancel := s.withStatementTimeout(ctx)
	defer cancel()
	sql := fmt.Sprintf(`INSERT INTO %s (sequence_id, position, topic, data) VALUES ($1, $2, $3, $4)`, s.table)
	_, err := s.pool.Exec(ctx, sql, item.SequenceID, item.Position, item.Topic, item.Data)
	if err != nil {
		return s.translateAppendError(err, item)
	}
	s.log.WithFields(logrus.Fields{"sequence_id": item.SequenceID, "position": item.Position}).Debug("appended sequenced item")
	return nil
}

// AppendBatch implements ActiveRecordStrategy: every item commits inside a
// single transaction, or none does.
func (s *PostgresActiveRecordStrategy) AppendBatch(ctx context.Context, items []SequencedItem) error {
	if len(items) == 0 {
		return nil
	}

	ctx, cancel := s.withStatementTimeout(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &StorageError{StoreError{Op: "PostgresActiveRecordStrategy.AppendBatch", Err: fmt.Errorf("begin transaction: %w", err)}}
	}
	defer tx.Rollback(ctx)

	sql := fmt.Sprintf(`INSERT INTO %s (sequence_id, position, topic, data) VALUES ($1, $2, $3, $4)`, s.table)
	for _, item := range items {
		if _, err := tx.Exec(ctx, sql, item.SequenceID, item.Position, item.Topic, item.Data); err != nil {
			return s.translateAppendError(err, item)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &StorageError{StoreError{Op: "PostgresActiveRecordStrategy.AppendBatch", Err: fmt.Errorf("commit transaction: %w", err)}}
	}
	s.log.WithField("count", len(items)).Debug("appended sequenced item batch")
	return nil
}

func (s *PostgresActiveRecordStrategy) translateAppendError(err error, item SequencedItem) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == postgresUniqueViolation {
		s.log.WithFields(logrus.Fields{"sequence_id": item.SequenceID, "position": item.Position}).Warn("sequenced item conflict")
		return &ConflictError{
			StoreError: StoreError{Op: "PostgresActiveRecordStrategy.Append", Err: err},
			SequenceID: item.SequenceID.String(),
			Position:   item.Position,
		}
	}
	return &StorageError{StoreError{Op: "PostgresActiveRecordStrategy.Append", Err: err}}
}

// Get implements ActiveRecordStrategy.
func (s *PostgresActiveRecordStrategy) Get(ctx context.Context, sequenceID uuid.UUID, position float64) (SequencedItem, error) {
	ctx, cancel := s.withStatementTimeout(ctx)
	defer cancel()
	sql := fmt.Sprintf(`SELECT sequence_id, position, topic, data FROM %s WHERE sequence_id = $1 AND position = $2`, s.table)
	row := s.pool.QueryRow(ctx, sql, sequenceID, position)

	var item SequencedItem
	if err := row.Scan(&item.SequenceID, &item.Position, &item.Topic, &item.Data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SequencedItem{}, &NotFoundError{
				StoreError: StoreError{Op: "PostgresActiveRecordStrategy.Get", Err: err},
				SequenceID: sequenceID.String(),
				Position:   position,
			}
		}
		return SequencedItem{}, &StorageError{StoreError{Op: "PostgresActiveRecordStrategy.Get", Err: err}}
	}
	return item, nil
}

// GetItems implements ActiveRecordStrategy.
func (s *PostgresActiveRecordStrategy) GetItems(ctx context.Context, sequenceID uuid.UUID, opts GetItemsOptions) ([]SequencedItem, error) {
	ctx, cancel := s.withStatementTimeout(ctx)
	defer cancel()
	sql := fmt.Sprintf(`SELECT sequence_id, position, topic, data FROM %s WHERE sequence_id = $1`, s.table)
	args := []any{sequenceID}

	if opts.GT != nil {
		args = append(args, *opts.GT)
		sql += fmt.Sprintf(" AND position > $%d", len(args))
	}
	if opts.GTE != nil {
		args = append(args, *opts.GTE)
		sql += fmt.Sprintf(" AND position >= $%d", len(args))
	}
	if opts.LT != nil {
		args = append(args, *opts.LT)
		sql += fmt.Sprintf(" AND position < $%d", len(args))
	}
	if opts.LTE != nil {
		args = append(args, *opts.LTE)
		sql += fmt.Sprintf(" AND position <= $%d", len(args))
	}

	if opts.QueryAscending {
		sql += " ORDER BY position ASC"
	} else {
		sql += " ORDER BY position DESC"
	}

	if opts.Limit != nil {
		args = append(args, *opts.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	s.log.WithField("sql", sql).Debug("querying sequenced items")

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, &StorageError{StoreError{Op: "PostgresActiveRecordStrategy.GetItems", Err: err}}
	}
	defer rows.Close()

	var items []SequencedItem
	for rows.Next() {
		var item SequencedItem
		if err := rows.Scan(&item.SequenceID, &item.Position, &item.Topic, &item.Data); err != nil {
			return nil, &StorageError{StoreError{Op: "PostgresActiveRecordStrategy.GetItems", Err: err}}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{StoreError{Op: "PostgresActiveRecordStrategy.GetItems", Err: err}}
	}

	if opts.QueryAscending != opts.ResultsAscending {
		reverseItems(items)
	}
	return items, nil
}

// AllItems implements ActiveRecordStrategy, streaming rows off a single
// query via a cursor-backed ItemIterator rather than loading the whole log.
func (s *PostgresActiveRecordStrategy) AllItems(ctx context.Context) (ItemIterator, error) {
	sql := fmt.Sprintf(`SELECT sequence_id, position, topic, data FROM %s ORDER BY sequence_id, position`, s.table)
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, &StorageError{StoreError{Op: "PostgresActiveRecordStrategy.AllItems", Err: err}}
	}
	return &postgresItemIterator{rows: rows}, nil
}

type postgresItemIterator struct {
	rows pgx.Rows
}

func (it *postgresItemIterator) Next(ctx context.Context) (*SequencedItem, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, &StorageError{StoreError{Op: "postgresItemIterator.Next", Err: err}}
		}
		return nil, nil
	}
	var item SequencedItem
	if err := it.rows.Scan(&item.SequenceID, &item.Position, &item.Topic, &item.Data); err != nil {
		return nil, &StorageError{StoreError{Op: "postgresItemIterator.Next", Err: err}}
	}
	return &item, nil
}

func (it *postgresItemIterator) Close() error {
	it.rows.Close()
	return nil
}
