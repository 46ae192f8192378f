package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voyagen/streamvault/internal/models"
)

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// SQLite implements Store on an embedded database file. Times are stored as
// epoch milliseconds and raw payloads as JSON text.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path and applies the schema.
// path may be a plain file path, "file:..." DSN or ":memory:".
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := MigrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// openSQLite opens path with the connection pragmas and a single connection,
// which serializes writers and keeps ":memory:" databases shared.
func openSQLite(path string) (*sql.DB, error) {
	dsn := strings.TrimPrefix(path, "sqlite://")
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dsn+sep+sqlitePragmas)
	if err != nil {
		return nil, fmt.Errorf("sql.Open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func (s *SQLite) Close() {
	s.db.Close()
}

// --- sources ---

const sqliteSourceColumns = `id, name, type, url, username, password, user_agent, enabled, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSource(row rowScanner) (*models.Source, error) {
	var src models.Source
	var typ string
	var created int64
	if err := row.Scan(&src.ID, &src.Name, &typ, &src.URL, &src.Username, &src.Password, &src.UserAgent, &src.Enabled, &created); err != nil {
		return nil, err
	}
	src.Type = models.SourceType(typ)
	src.CreatedAt = fromMillis(sql.NullInt64{Int64: created, Valid: true})
	return &src, nil
}

func (s *SQLite) ListSources(ctx context.Context) ([]models.Source, error) {
	return s.listSources(ctx, "ListSources", `SELECT `+sqliteSourceColumns+` FROM sources ORDER BY id`)
}

func (s *SQLite) ListEnabledSources(ctx context.Context) ([]models.Source, error) {
	return s.listSources(ctx, "ListEnabledSources", `SELECT `+sqliteSourceColumns+` FROM sources WHERE enabled = 1 ORDER BY id`)
}

func (s *SQLite) listSources(ctx context.Context, op, query string) ([]models.Source, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	out := []models.Source{}
	for rows.Next() {
		src, err := scanSQLiteSource(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		out = append(out, *src)
	}
	return out, rows.Err()
}

func (s *SQLite) GetSource(ctx context.Context, sourceID int64) (*models.Source, error) {
	src, err := scanSQLiteSource(s.db.QueryRowContext(ctx, `SELECT `+sqliteSourceColumns+` FROM sources WHERE id = ?`, sourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetSource: %w", err)
	}
	return src, nil
}

func (s *SQLite) UpsertSource(ctx context.Context, src models.Source) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO sources (name, type, url, username, password, user_agent, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET
		   type = excluded.type, url = excluded.url, username = excluded.username,
		   password = excluded.password, user_agent = excluded.user_agent, enabled = excluded.enabled
		 RETURNING id`,
		src.Name, string(src.Type), src.URL, src.Username, src.Password, src.UserAgent, src.Enabled,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("UpsertSource: %w", err)
	}
	return id, nil
}

// --- batched writes ---

const sqliteUpsertCategory = `INSERT INTO categories (id, source_id, type, category_id, name, parent_id, position, raw_payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (source_id, type, category_id) DO UPDATE SET
  id = excluded.id, name = excluded.name, parent_id = excluded.parent_id,
  position = excluded.position, raw_payload = excluded.raw_payload`

func (s *SQLite) UpsertCategories(ctx context.Context, cats []models.Category) error {
	if len(cats) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, sqliteUpsertCategory)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range cats {
			if _, err := stmt.ExecContext(ctx, c.ID, c.SourceID, string(c.Type), c.CategoryID, c.Name, c.ParentID, c.Position, jsonText(c.RawPayload)); err != nil {
				return fmt.Errorf("category %s: %w", c.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("UpsertCategories: %w", err)
	}
	return nil
}

const sqliteUpsertItem = `INSERT INTO playlist_items (id, source_id, type, item_id, name, category_id, icon, stream_url,
  container_extension, rating, year, added_at, position, raw_payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (source_id, type, item_id) DO UPDATE SET
  id = excluded.id, name = excluded.name, category_id = excluded.category_id, icon = excluded.icon,
  stream_url = excluded.stream_url, container_extension = excluded.container_extension,
  rating = excluded.rating, year = excluded.year, added_at = excluded.added_at,
  position = excluded.position, raw_payload = excluded.raw_payload`

func (s *SQLite) UpsertItems(ctx context.Context, items []models.PlaylistItem) error {
	if len(items) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, sqliteUpsertItem)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, it := range items {
			_, err := stmt.ExecContext(ctx, it.ID, it.SourceID, string(it.Type), it.ItemID, it.Name, it.CategoryID, it.Icon,
				it.StreamURL, it.ContainerExtension, it.Rating, it.Year, toMillis(it.AddedAt), it.Position, jsonText(it.RawPayload))
			if err != nil {
				return fmt.Errorf("item %s: %w", it.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("UpsertItems: %w", err)
	}
	return nil
}

func (s *SQLite) ReplacePrograms(ctx context.Context, sourceID int64, progs []models.EpgProgram) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM epg_programs WHERE source_id = ?`, sourceID); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		if len(progs) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO epg_programs (source_id, channel_id, start_time, end_time, title, description, raw_payload)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range progs {
			if _, err := stmt.ExecContext(ctx, sourceID, p.ChannelID, p.StartTime, p.EndTime, p.Title, p.Description, jsonText(p.RawPayload)); err != nil {
				return fmt.Errorf("insert: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ReplacePrograms: %w", err)
	}
	return nil
}

func (s *SQLite) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- sync status ---

func (s *SQLite) SetSyncStatus(ctx context.Context, st models.SyncStatus) error {
	if st.Scope == "" {
		st.Scope = models.SyncScopeAll
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_status (source_id, scope, last_sync_at, status, error_message)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (source_id, scope) DO UPDATE SET
		   last_sync_at = COALESCE(excluded.last_sync_at, sync_status.last_sync_at),
		   status = excluded.status, error_message = excluded.error_message`,
		st.SourceID, st.Scope, toMillis(st.LastSyncAt), st.Status, st.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("SetSyncStatus: %w", err)
	}
	return nil
}

func scanSQLiteSyncStatus(row rowScanner) (*models.SyncStatus, error) {
	var st models.SyncStatus
	var last sql.NullInt64
	if err := row.Scan(&st.SourceID, &st.Scope, &last, &st.Status, &st.ErrorMessage); err != nil {
		return nil, err
	}
	st.LastSyncAt = fromMillis(last)
	return &st, nil
}

func (s *SQLite) GetSyncStatus(ctx context.Context, sourceID int64) (*models.SyncStatus, error) {
	st, err := scanSQLiteSyncStatus(s.db.QueryRowContext(ctx,
		`SELECT source_id, scope, last_sync_at, status, error_message FROM sync_status WHERE source_id = ? AND scope = ?`,
		sourceID, models.SyncScopeAll))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetSyncStatus: %w", err)
	}
	return st, nil
}

func (s *SQLite) ListSyncStatuses(ctx context.Context) ([]models.SyncStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, scope, last_sync_at, status, error_message FROM sync_status ORDER BY source_id, scope`)
	if err != nil {
		return nil, fmt.Errorf("ListSyncStatuses: %w", err)
	}
	defer rows.Close()
	out := []models.SyncStatus{}
	for rows.Next() {
		st, err := scanSQLiteSyncStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("ListSyncStatuses scan: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// --- reads ---

func (s *SQLite) ListCategories(ctx context.Context, f CategoryFilter) ([]models.Category, error) {
	q := `SELECT id, source_id, type, category_id, name, parent_id, position, hidden, raw_payload
	      FROM categories WHERE source_id = ?`
	args := []any{f.SourceID}
	if f.Type != "" {
		q += " AND type = ?"
		args = append(args, string(f.Type))
	}
	if !f.IncludeHidden {
		q += " AND hidden = 0"
	}
	q += " ORDER BY type, position, category_id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: %w", err)
	}
	defer rows.Close()
	out := []models.Category{}
	for rows.Next() {
		var c models.Category
		var typ string
		var parent, raw sql.NullString
		if err := rows.Scan(&c.ID, &c.SourceID, &typ, &c.CategoryID, &c.Name, &parent, &c.Position, &c.Hidden, &raw); err != nil {
			return nil, fmt.Errorf("ListCategories scan: %w", err)
		}
		c.Type = models.ItemType(typ)
		c.ParentID = nullString(parent)
		c.RawPayload = rawText(raw)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLite) ListItems(ctx context.Context, f ItemFilter) ([]models.PlaylistItem, error) {
	q := `SELECT i.id, i.source_id, i.type, i.item_id, i.name, i.category_id, i.icon, i.stream_url,
	        i.container_extension, i.rating, i.year, i.added_at, i.position, i.hidden, i.raw_payload
	      FROM playlist_items i WHERE i.source_id = ?`
	args := []any{f.SourceID}
	if f.Type != "" {
		q += " AND i.type = ?"
		args = append(args, string(f.Type))
	}
	if f.CategoryID != "" {
		q += " AND i.category_id = ?"
		args = append(args, f.CategoryID)
	}
	if !f.IncludeHidden {
		q += ` AND i.hidden = 0 AND NOT EXISTS (
		         SELECT 1 FROM categories c
		         WHERE c.source_id = i.source_id AND c.type = i.type AND c.category_id = i.category_id AND c.hidden = 1)`
	}
	q += " ORDER BY i.type, i.position, i.item_id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ListItems: %w", err)
	}
	defer rows.Close()
	out := []models.PlaylistItem{}
	for rows.Next() {
		var it models.PlaylistItem
		var typ string
		var streamURL, container, rating, year, raw sql.NullString
		var added sql.NullInt64
		if err := rows.Scan(&it.ID, &it.SourceID, &typ, &it.ItemID, &it.Name, &it.CategoryID, &it.Icon, &streamURL,
			&container, &rating, &year, &added, &it.Position, &it.Hidden, &raw); err != nil {
			return nil, fmt.Errorf("ListItems scan: %w", err)
		}
		it.Type = models.ItemType(typ)
		it.StreamURL = nullString(streamURL)
		it.ContainerExtension = nullString(container)
		it.Rating = nullString(rating)
		it.Year = nullString(year)
		it.AddedAt = fromMillis(added)
		it.RawPayload = rawText(raw)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLite) ListPrograms(ctx context.Context, sourceID int64, from, to int64) ([]models.EpgProgram, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, source_id, start_time, end_time, title, description, raw_payload
		 FROM epg_programs
		 WHERE source_id = ? AND start_time < ? AND end_time > ?
		 ORDER BY channel_id, start_time`,
		sourceID, to, from)
	if err != nil {
		return nil, fmt.Errorf("ListPrograms: %w", err)
	}
	defer rows.Close()
	out := []models.EpgProgram{}
	for rows.Next() {
		var p models.EpgProgram
		var raw sql.NullString
		if err := rows.Scan(&p.ChannelID, &p.SourceID, &p.StartTime, &p.EndTime, &p.Title, &p.Description, &raw); err != nil {
			return nil, fmt.Errorf("ListPrograms scan: %w", err)
		}
		p.RawPayload = rawText(raw)
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- hide flags ---

func (s *SQLite) SetCategoryHidden(ctx context.Context, sourceID int64, t models.ItemType, categoryID string, hidden bool) error {
	return s.setHidden(ctx, "SetCategoryHidden",
		`UPDATE categories SET hidden = ? WHERE source_id = ? AND type = ? AND category_id = ?`,
		hidden, sourceID, string(t), categoryID)
}

func (s *SQLite) SetItemHidden(ctx context.Context, sourceID int64, t models.ItemType, itemID string, hidden bool) error {
	return s.setHidden(ctx, "SetItemHidden",
		`UPDATE playlist_items SET hidden = ? WHERE source_id = ? AND type = ? AND item_id = ?`,
		hidden, sourceID, string(t), itemID)
}

func (s *SQLite) setHidden(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- column helpers ---

func toMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func jsonText(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawText(v sql.NullString) []byte {
	if !v.Valid || v.String == "" {
		return nil
	}
	return []byte(v.String)
}
