package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/Modzer0/Brain-sub000/internal/models"
	"github.com/Modzer0/Brain-sub000/internal/recall"
)

const (
	sqliteBusyTimeout = 5 * time.Second
	cacheTTL          = 5 * time.Minute
	cacheMaxCost      = 64 << 20
)

const schema = `
CREATE TABLE IF NOT EXISTS long_term_memories (
	id                TEXT PRIMARY KEY,
	content           BLOB NOT NULL,
	raw_size          INTEGER NOT NULL,
	ts_nanos          INTEGER NOT NULL,
	importance        REAL NOT NULL,
	memory_type       TEXT NOT NULL,
	compression_level INTEGER NOT NULL DEFAULT 0,
	tags              TEXT,
	context           TEXT,
	associations      TEXT
);
CREATE INDEX IF NOT EXISTS idx_ltm_ts ON long_term_memories(ts_nanos DESC);
CREATE INDEX IF NOT EXISTS idx_ltm_importance ON long_term_memories(importance DESC);

CREATE TABLE IF NOT EXISTS memory_tags (
	memory_id TEXT NOT NULL,
	tag       TEXT NOT NULL,
	PRIMARY KEY (memory_id, tag)
);
CREATE INDEX IF NOT EXISTS idx_tags_tag ON memory_tags(tag);

CREATE TABLE IF NOT EXISTS memory_associations (
	memory_id     TEXT NOT NULL,
	associated_id TEXT NOT NULL,
	PRIMARY KEY (memory_id, associated_id)
);
CREATE INDEX IF NOT EXISTS idx_assoc_target ON memory_associations(associated_id);
`

const selectColumns = `id, content, ts_nanos, importance, memory_type, compression_level, tags, context, associations`

// SQLiteStore implements Store on a local SQLite file. Content is compressed
// with zstd at a speed/ratio trade-off chosen by the item's compression level,
// and Retrieve is fronted by a ristretto cache.
type SQLiteStore struct {
	db       *sql.DB
	path     string
	encoders map[int]*zstd.Encoder
	decoder  *zstd.Decoder
	cache    *ristretto.Cache
	logger   *slog.Logger
}

// NewSQLiteStore opens or creates the database at dbPath.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite store: creating db dir: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(%d)", dbPath, sqliteBusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: opening %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: migrating: %w", err)
	}

	encoders := make(map[int]*zstd.Encoder, 4)
	levels := map[int]zstd.EncoderLevel{
		models.CompressionNone:   zstd.SpeedDefault,
		models.CompressionLight:  zstd.SpeedFastest,
		models.CompressionMedium: zstd.SpeedDefault,
		models.CompressionHeavy:  zstd.SpeedBetterCompression,
	}
	for lvl, zl := range levels {
		enc, encErr := zstd.NewWriter(nil, zstd.WithEncoderLevel(zl))
		if encErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite store: zstd encoder: %w", encErr)
		}
		encoders[lvl] = enc
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: zstd decoder: %w", err)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     cacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: cache: %w", err)
	}

	logger.Info("opened long-term store", "path", dbPath)

	return &SQLiteStore{
		db:       db,
		path:     dbPath,
		encoders: encoders,
		decoder:  dec,
		cache:    cache,
		logger:   logger,
	}, nil
}

func (s *SQLiteStore) compress(level int, content string) []byte {
	enc, ok := s.encoders[level]
	if !ok {
		enc = s.encoders[models.CompressionNone]
	}
	return enc.EncodeAll([]byte(content), nil)
}

// StoreCompressed upserts item and refreshes its tag and association index rows.
func (s *SQLiteStore) StoreCompressed(ctx context.Context, item models.MemoryItem) error {
	if item.ID == "" {
		return ErrInvalidItem
	}
	item = item.Clone()
	item.Normalize()

	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("sqlite store: encoding tags: %w", err)
	}
	ctxJSON, err := json.Marshal(item.Context)
	if err != nil {
		return fmt.Errorf("sqlite store: encoding context: %w", err)
	}
	assoc, err := json.Marshal(item.Associations)
	if err != nil {
		return fmt.Errorf("sqlite store: encoding associations: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO long_term_memories (id, content, raw_size, ts_nanos, importance, memory_type, compression_level, tags, context, associations)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			raw_size = excluded.raw_size,
			ts_nanos = excluded.ts_nanos,
			importance = excluded.importance,
			memory_type = excluded.memory_type,
			compression_level = excluded.compression_level,
			tags = excluded.tags,
			context = excluded.context,
			associations = excluded.associations`,
		item.ID, s.compress(item.CompressionLevel, item.Content), len(item.Content),
		item.Timestamp.UnixNano(), item.ImportanceScore, string(item.MemoryType),
		item.CompressionLevel, string(tags), string(ctxJSON), string(assoc),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: upserting %s: %w", item.ID, err)
	}
	if err := writeIndexRows(ctx, tx, item); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit %s: %w", item.ID, err)
	}

	s.cache.Del(item.ID)
	s.logger.Debug("long-term: stored memory", "id", item.ID, "compression_level", item.CompressionLevel)
	return nil
}

func writeIndexRows(ctx context.Context, tx *sql.Tx, item models.MemoryItem) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_tags WHERE memory_id = ?`, item.ID); err != nil {
		return fmt.Errorf("sqlite store: clearing tags for %s: %w", item.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_associations WHERE memory_id = ?`, item.ID); err != nil {
		return fmt.Errorf("sqlite store: clearing associations for %s: %w", item.ID, err)
	}
	for _, t := range item.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO memory_tags (memory_id, tag) VALUES (?, ?)`, item.ID, t); err != nil {
			return fmt.Errorf("sqlite store: indexing tag for %s: %w", item.ID, err)
		}
	}
	for _, a := range item.Associations {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO memory_associations (memory_id, associated_id) VALUES (?, ?)`, item.ID, a); err != nil {
			return fmt.Errorf("sqlite store: indexing association for %s: %w", item.ID, err)
		}
	}
	return nil
}

// Search narrows candidates in SQL by type, time and importance, then applies term matching.
func (s *SQLiteStore) Search(ctx context.Context, query models.MemoryQuery) ([]models.MemoryItem, error) {
	var (
		where []string
		args  []any
	)
	if !query.From.IsZero() {
		where = append(where, "ts_nanos >= ?")
		args = append(args, query.From.UnixNano())
	}
	if !query.To.IsZero() {
		where = append(where, "ts_nanos <= ?")
		args = append(args, query.To.UnixNano())
	}
	if query.ImportanceThreshold > 0 {
		where = append(where, "importance >= ?")
		args = append(args, query.ImportanceThreshold)
	}
	if len(query.MemoryTypes) > 0 {
		placeholders := make([]string, len(query.MemoryTypes))
		for i, t := range query.MemoryTypes {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "memory_type IN ("+strings.Join(placeholders, ",")+")")
	}

	q := `SELECT ` + selectColumns + ` FROM long_term_memories`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	items, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: search: %w", err)
	}
	return filterQuery(items, query), nil
}

// Retrieve returns a single item, consulting the cache first.
func (s *SQLiteStore) Retrieve(ctx context.Context, id string) (*models.MemoryItem, error) {
	if v, ok := s.cache.Get(id); ok {
		it := v.(models.MemoryItem).Clone()
		return &it, nil
	}
	items, err := s.query(ctx, `SELECT `+selectColumns+` FROM long_term_memories WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: retrieving %s: %w", id, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	it := items[0]
	s.cache.SetWithTTL(id, it.Clone(), int64(len(it.Content))+1, cacheTTL)
	return &it, nil
}

// SearchByContext loads every row and filters on decoded context values.
func (s *SQLiteStore) SearchByContext(ctx context.Context, criteria map[string]models.ContextValue, max int) ([]models.MemoryItem, error) {
	if len(criteria) == 0 {
		return nil, nil
	}
	items, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return filterContext(items, criteria, max), nil
}

// SearchByTemporalRange returns items inside [start, end], newest first.
func (s *SQLiteStore) SearchByTemporalRange(ctx context.Context, start, end time.Time, max int) ([]models.MemoryItem, error) {
	q := `SELECT ` + selectColumns + ` FROM long_term_memories WHERE ts_nanos BETWEEN ? AND ? ORDER BY ts_nanos DESC, importance DESC`
	args := []any{start.UnixNano(), end.UnixNano()}
	if max > 0 {
		q += " LIMIT ?"
		args = append(args, max)
	}
	items, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: temporal search: %w", err)
	}
	return items, nil
}

// GetByAssociation uses the association index for the inverse lookup.
func (s *SQLiteStore) GetByAssociation(ctx context.Context, id string) ([]models.MemoryItem, error) {
	items, err := s.query(ctx, `SELECT `+selectColumns+` FROM long_term_memories
		WHERE id = ? OR id IN (SELECT memory_id FROM memory_associations WHERE associated_id = ?)`, id, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: association lookup for %s: %w", id, err)
	}
	recall.SortByImportance(items)
	return items, nil
}

// UpdateAssociations unions ids into the stored association set.
func (s *SQLiteStore) UpdateAssociations(ctx context.Context, id string, ids []string) error {
	it, err := s.Retrieve(ctx, id)
	if err != nil {
		return err
	}
	changed := false
	for _, a := range ids {
		if it.AddAssociation(a) {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.StoreCompressed(ctx, *it)
}

// Remove deletes a memory and its index rows.
func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM long_term_memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite store: deleting %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_tags WHERE memory_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite store: deleting tags for %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_associations WHERE memory_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite store: deleting associations for %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit delete %s: %w", id, err)
	}
	s.cache.Del(id)
	return nil
}

// All returns every stored item.
func (s *SQLiteStore) All(ctx context.Context) ([]models.MemoryItem, error) {
	items, err := s.query(ctx, `SELECT `+selectColumns+` FROM long_term_memories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: listing: %w", err)
	}
	return items, nil
}

// GetStorageStatistics reports on-disk size, file count, compression ratio and row count.
func (s *SQLiteStore) GetStorageStatistics(ctx context.Context) (map[string]any, error) {
	var (
		count      int64
		rawSize    sql.NullInt64
		storedSize sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(raw_size), SUM(LENGTH(content)) FROM long_term_memories`,
	).Scan(&count, &rawSize, &storedSize)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: statistics: %w", err)
	}

	var totalSize int64
	files := 0
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if fi, statErr := os.Stat(s.path + suffix); statErr == nil {
			totalSize += fi.Size()
			files++
		}
	}

	ratio := 1.0
	if storedSize.Int64 > 0 {
		ratio = float64(rawSize.Int64) / float64(storedSize.Int64)
	}

	return map[string]any{
		StatTotalSize:        totalSize,
		StatFileCount:        files,
		StatCompressionRatio: ratio,
		StatMemoryCount:      count,
	}, nil
}

// OptimizeStorage checkpoints the WAL, vacuums and refreshes planner statistics.
func (s *SQLiteStore) OptimizeStorage(ctx context.Context) error {
	for _, stmt := range []string{`PRAGMA wal_checkpoint(TRUNCATE)`, `VACUUM`, `ANALYZE`} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite store: %s: %w", stmt, err)
		}
	}
	s.logger.Info("long-term: storage optimized", "path", s.path)
	return nil
}

// RebuildIndex regenerates the tag and association tables from the memory rows.
func (s *SQLiteStore) RebuildIndex(ctx context.Context) error {
	items, err := s.All(ctx)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_tags`); err != nil {
		return fmt.Errorf("sqlite store: truncating tags: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_associations`); err != nil {
		return fmt.Errorf("sqlite store: truncating associations: %w", err)
	}
	for _, it := range items {
		if err := writeIndexRows(ctx, tx, it); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `REINDEX`); err != nil {
		return fmt.Errorf("sqlite store: reindex: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit rebuild: %w", err)
	}
	s.cache.Clear()
	s.logger.Info("long-term: index rebuilt", "memories", len(items))
	return nil
}

// Close releases the database, codecs and cache.
func (s *SQLiteStore) Close() error {
	s.cache.Close()
	s.decoder.Close()
	var errs []error
	for _, enc := range s.encoders {
		errs = append(errs, enc.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]models.MemoryItem, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.MemoryItem
	for rows.Next() {
		it, scanErr := s.scan(rows)
		if scanErr != nil {
			s.logger.Warn("long-term: skipping unreadable row", "error", scanErr)
			continue
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) scan(rows *sql.Rows) (models.MemoryItem, error) {
	var (
		it                  models.MemoryItem
		compressed          []byte
		tsNanos             int64
		memType             string
		tags, ctxJSON, asso sql.NullString
	)
	if err := rows.Scan(&it.ID, &compressed, &tsNanos, &it.ImportanceScore, &memType,
		&it.CompressionLevel, &tags, &ctxJSON, &asso); err != nil {
		return it, fmt.Errorf("scanning row: %w", err)
	}
	raw, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return it, fmt.Errorf("decompressing %s: %w", it.ID, err)
	}
	it.Content = string(raw)
	it.Timestamp = time.Unix(0, tsNanos).UTC()
	it.MemoryType = models.MemoryType(memType)

	if tags.Valid && tags.String != "" && tags.String != "null" {
		if err := json.Unmarshal([]byte(tags.String), &it.Tags); err != nil {
			return it, fmt.Errorf("decoding tags for %s: %w", it.ID, err)
		}
	}
	if ctxJSON.Valid && ctxJSON.String != "" && ctxJSON.String != "null" {
		if err := json.Unmarshal([]byte(ctxJSON.String), &it.Context); err != nil {
			return it, fmt.Errorf("decoding context for %s: %w", it.ID, err)
		}
	}
	if asso.Valid && asso.String != "" && asso.String != "null" {
		if err := json.Unmarshal([]byte(asso.String), &it.Associations); err != nil {
			return it, fmt.Errorf("decoding associations for %s: %w", it.ID, err)
		}
	}
	return it, nil
}
