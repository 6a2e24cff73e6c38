package recall

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable recall backend: prior responses survive process
// restarts, which is exactly when stale fallback earns its keep.
type SQLiteStore struct {
	db     *sql.DB
	maxAge time.Duration
	now    func() time.Time
	log    *zap.Logger
}

// OpenSQLite opens (or creates) the recall database at path and prepares the
// schema. Entries older than maxAge are invisible to lookups and pruned on
// save.
func OpenSQLite(path string, maxAge time.Duration, log *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open recall db: %w", err)
	}
	s, err := NewSQLiteStore(db, maxAge, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an already-open database. The caller keeps ownership
// of db unless the store was built through OpenSQLite.
func NewSQLiteStore(db *sql.DB, maxAge time.Duration, log *zap.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &SQLiteStore{db: db, maxAge: maxAge, now: time.Now, log: log.Named("recall")}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate recall db: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	ctx := context.Background()
	// WAL lets lookups proceed while a save is in flight.
	if _, err := s.db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `PRAGMA busy_timeout=5000`); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS recall (
		level    TEXT NOT NULL,
		sig      TEXT NOT NULL,
		query    TEXT NOT NULL,
		tokens   TEXT NOT NULL,
		payload  TEXT NOT NULL,
		saved_at INTEGER NOT NULL,
		PRIMARY KEY (level, sig)
	)`)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Lookup(ctx context.Context, sigs Signatures, minSimilarity float64) (*Hit, error) {
	cutoff := s.now().Add(-s.maxAge).UnixMilli()
	for _, level := range AllLevels {
		sig := sigs.For(level)
		if sig == "" {
			continue
		}
		e, err := s.queryOne(ctx, level, sig, cutoff)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		sim, accepted := accept(e, sigs, level, minSimilarity)
		if !accepted {
			s.log.Debug("stale entry below similarity floor",
				zap.String("level", string(level)),
				zap.Float64("similarity", sim))
			continue
		}
		return &Hit{Entry: *e, Level: level, Similarity: sim}, nil
	}
	return nil, nil
}

func (s *SQLiteStore) queryOne(ctx context.Context, level Level, sig string, cutoff int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT query, tokens, payload, saved_at
		FROM recall
		WHERE level = ? AND sig = ? AND saved_at >= ?`,
		string(level), sig, cutoff)

	var (
		query, tokensJSON, payload string
		savedAt                    int64
	)
	if err := row.Scan(&query, &tokensJSON, &payload, &savedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("recall lookup %s: %w", level, err)
	}
	e := Entry{Query: query, SavedAtMs: savedAt}
	if err := json.Unmarshal([]byte(tokensJSON), &e.Tokens); err != nil {
		return nil, fmt.Errorf("recall decode tokens: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &e.Cases); err != nil {
		return nil, fmt.Errorf("recall decode payload: %w", err)
	}
	return &e, nil
}

func (s *SQLiteStore) Save(ctx context.Context, sigs Signatures, e Entry) error {
	tokensJSON, err := json.Marshal(e.Tokens)
	if err != nil {
		return fmt.Errorf("recall encode tokens: %w", err)
	}
	payload, err := json.Marshal(e.Cases)
	if err != nil {
		return fmt.Errorf("recall encode payload: %w", err)
	}
	savedAt := e.SavedAtMs
	if savedAt == 0 {
		savedAt = s.now().UnixMilli()
	}

	for _, level := range AllLevels {
		sig := sigs.For(level)
		if sig == "" {
			continue
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO recall (level, sig, query, tokens, payload, saved_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (level, sig) DO UPDATE SET
				query = excluded.query,
				tokens = excluded.tokens,
				payload = excluded.payload,
				saved_at = excluded.saved_at`,
			string(level), sig, e.Query, string(tokensJSON), string(payload), savedAt)
		if err != nil {
			return fmt.Errorf("recall save %s: %w", level, err)
		}
	}

	cutoff := s.now().Add(-s.maxAge).UnixMilli()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM recall WHERE saved_at < ?`, cutoff); err != nil {
		s.log.Warn("recall prune failed", zap.Error(err))
	}
	return nil
}
