package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-sync/types"
)

var collectionNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type SQLiteStore struct {
	db          *sql.DB
	logger      types.Logger
	config      *types.StoreConfig
	collections map[string]bool
	mu          sync.RWMutex
	state       atomic.Value
}

func NewSQLiteStore(ctx context.Context, logger types.Logger, config *types.StoreConfig) (types.DurableStore, error) {
	path := config.Path
	if path == "" {
		path = "sai_sync.db"
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, types.WrapError(err, "failed to open sqlite store")
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, types.WrapError(err, "failed to ping sqlite store")
	}

	s := &SQLiteStore{
		db:          db,
		logger:      logger,
		config:      config,
		collections: make(map[string]bool),
	}

	s.state.Store(StateStopped)
	return s, nil
}

func (s *SQLiteStore) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrComponentAlreadyRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	s.logger.Info("SQLite store started", zap.String("path", s.config.Path))
	return nil
}

func (s *SQLiteStore) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrComponentNotRunning
	}

	defer func() {
		s.setState(StateStopped)
	}()

	if err := s.db.Close(); err != nil {
		return types.WrapError(err, "failed to close sqlite store")
	}

	s.logger.Info("SQLite store stopped gracefully")
	return nil
}

func (s *SQLiteStore) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *SQLiteStore) EnsureCollection(ctx context.Context, collection string) error {
	if !collectionNamePattern.MatchString(collection) {
		return types.Errorf(types.ErrInvalidParameter, "collection: %s", collection)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collections[collection] {
		return nil
	}

	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`,
		collection,
	).Scan(&name)

	if err != nil && err != sql.ErrNoRows {
		return types.Errorf(types.ErrStoreReadFailed, "introspect %s: %v", collection, err)
	}

	if err == sql.ErrNoRows {
		createQuery := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %q (key TEXT PRIMARY KEY, value BLOB NOT NULL)`,
			collection,
		)
		if _, err := s.db.ExecContext(ctx, createQuery); err != nil {
			return types.Errorf(types.ErrStoreWriteFailed, "create %s: %v", collection, err)
		}
	}

	s.collections[collection] = true
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, collection, key string, value []byte) error {
	if err := s.checkCollection(collection); err != nil {
		return err
	}

	query := fmt.Sprintf(
		`INSERT INTO %q (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		collection,
	)

	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return types.Errorf(types.ErrStoreWriteFailed, "put %s/%s: %v", collection, key, err)
	}

	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	if err := s.checkCollection(collection); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT value FROM %q WHERE key = ?`, collection)

	var value []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, types.Errorf(types.ErrStoreKeyNotFound, "%s/%s", collection, key)
	}
	if err != nil {
		return nil, types.Errorf(types.ErrStoreReadFailed, "get %s/%s: %v", collection, key, err)
	}

	return value, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, key string) error {
	if err := s.checkCollection(collection); err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %q WHERE key = ?`, collection)

	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return types.Errorf(types.ErrStoreWriteFailed, "delete %s/%s: %v", collection, key, err)
	}

	return nil
}

func (s *SQLiteStore) Scan(ctx context.Context, collection string, filter types.StoredRecordFilter) ([]types.StoredRecord, error) {
	if err := s.checkCollection(collection); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT key, value FROM %q ORDER BY key ASC`, collection)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, types.Errorf(types.ErrStoreReadFailed, "scan %s: %v", collection, err)
	}
	defer rows.Close()

	var records []types.StoredRecord
	for rows.Next() {
		var rec types.StoredRecord
		if err := rows.Scan(&rec.Key, &rec.Value); err != nil {
			return nil, types.Errorf(types.ErrStoreReadFailed, "scan %s: %v", collection, err)
		}
		if filter == nil || filter(rec.Key, rec.Value) {
			records = append(records, rec)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, types.Errorf(types.ErrStoreReadFailed, "scan %s: %v", collection, err)
	}

	return records, nil
}

func (s *SQLiteStore) Apply(ctx context.Context, ops []types.StoreOp) error {
	if len(ops) == 0 {
		return types.ErrStoreBatchEmpty
	}

	for _, op := range ops {
		if err := s.checkCollection(op.Collection); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Errorf(types.ErrStoreWriteFailed, "begin batch: %v", err)
	}

	for _, op := range ops {
		switch op.Kind {
		case types.StoreOpPut:
			query := fmt.Sprintf(
				`INSERT INTO %q (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
				op.Collection,
			)
			if _, err := tx.ExecContext(ctx, query, op.Key, op.Value); err != nil {
				_ = tx.Rollback()
				return types.Errorf(types.ErrStoreWriteFailed, "batch put %s/%s: %v", op.Collection, op.Key, err)
			}
		case types.StoreOpDelete:
			query := fmt.Sprintf(`DELETE FROM %q WHERE key = ?`, op.Collection)
			if _, err := tx.ExecContext(ctx, query, op.Key); err != nil {
				_ = tx.Rollback()
				return types.Errorf(types.ErrStoreWriteFailed, "batch delete %s/%s: %v", op.Collection, op.Key, err)
			}
		default:
			_ = tx.Rollback()
			return types.Errorf(types.ErrInvalidParameter, "op kind: %d", op.Kind)
		}
	}

	if err := tx.Commit(); err != nil {
		return types.Errorf(types.ErrStoreWriteFailed, "commit batch: %v", err)
	}

	return nil
}

func (s *SQLiteStore) Count(ctx context.Context, collection string) (int64, error) {
	if err := s.checkCollection(collection); err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %q`, collection)

	var count int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, types.Errorf(types.ErrStoreReadFailed, "count %s: %v", collection, err)
	}

	return count, nil
}

func (s *SQLiteStore) Clear(ctx context.Context, collection string) error {
	if err := s.checkCollection(collection); err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %q`, collection)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return types.Errorf(types.ErrStoreWriteFailed, "clear %s: %v", collection, err)
	}

	return nil
}

func (s *SQLiteStore) checkCollection(collection string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.collections[collection] {
		return types.Errorf(types.ErrStoreCollectionUnknown, "%s", collection)
	}
	return nil
}

func (s *SQLiteStore) getState() State {
	return s.state.Load().(State)
}

func (s *SQLiteStore) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *SQLiteStore) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}
