package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voyagen/streamvault/internal/models"
)

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store from a DSN. Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// --- sources ---

const pgSourceColumns = `id, name, type, url, username, password, user_agent, enabled, created_at`

func scanPgSource(row pgx.Row) (*models.Source, error) {
	var s models.Source
	var typ string
	var created time.Time
	if err := row.Scan(&s.ID, &s.Name, &typ, &s.URL, &s.Username, &s.Password, &s.UserAgent, &s.Enabled, &created); err != nil {
		return nil, err
	}
	s.Type = models.SourceType(typ)
	s.CreatedAt = &created
	return &s, nil
}

func (p *Postgres) ListSources(ctx context.Context) ([]models.Source, error) {
	return p.listSources(ctx, "ListSources", `SELECT `+pgSourceColumns+` FROM sources ORDER BY id`)
}

func (p *Postgres) ListEnabledSources(ctx context.Context) ([]models.Source, error) {
	return p.listSources(ctx, "ListEnabledSources", `SELECT `+pgSourceColumns+` FROM sources WHERE enabled ORDER BY id`)
}

func (p *Postgres) listSources(ctx context.Context, op, query string) ([]models.Source, error) {
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	out := []models.Source{}
	for rows.Next() {
		s, err := scanPgSource(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (p *Postgres) GetSource(ctx context.Context, sourceID int64) (*models.Source, error) {
	s, err := scanPgSource(p.pool.QueryRow(ctx, `SELECT `+pgSourceColumns+` FROM sources WHERE id = $1`, sourceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetSource: %w", err)
	}
	return s, nil
}

func (p *Postgres) UpsertSource(ctx context.Context, src models.Source) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO sources (name, type, url, username, password, user_agent, enabled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (name) DO UPDATE SET
		   type = EXCLUDED.type, url = EXCLUDED.url, username = EXCLUDED.username,
		   password = EXCLUDED.password, user_agent = EXCLUDED.user_agent, enabled = EXCLUDED.enabled
		 RETURNING id`,
		src.Name, string(src.Type), src.URL, src.Username, src.Password, src.UserAgent, src.Enabled,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("UpsertSource: %w", err)
	}
	return id, nil
}

// --- batched writes ---

func (p *Postgres) UpsertCategories(ctx context.Context, cats []models.Category) error {
	b := &pgx.Batch{}
	for _, c := range cats {
		b.Queue(
			`INSERT INTO categories (id, source_id, type, category_id, name, parent_id, position, raw_payload)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (source_id, type, category_id) DO UPDATE SET
			   id = EXCLUDED.id, name = EXCLUDED.name, parent_id = EXCLUDED.parent_id,
			   position = EXCLUDED.position, raw_payload = EXCLUDED.raw_payload, updated_at = NOW()`,
			c.ID, c.SourceID, string(c.Type), c.CategoryID, c.Name, c.ParentID, c.Position, jsonArg(c.RawPayload),
		)
	}
	if err := p.sendBatch(ctx, b); err != nil {
		return fmt.Errorf("UpsertCategories: %w", err)
	}
	return nil
}

func (p *Postgres) UpsertItems(ctx context.Context, items []models.PlaylistItem) error {
	b := &pgx.Batch{}
	for _, it := range items {
		b.Queue(
			`INSERT INTO playlist_items (id, source_id, type, item_id, name, category_id, icon, stream_url,
			   container_extension, rating, year, added_at, position, raw_payload)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			 ON CONFLICT (source_id, type, item_id) DO UPDATE SET
			   id = EXCLUDED.id, name = EXCLUDED.name, category_id = EXCLUDED.category_id, icon = EXCLUDED.icon,
			   stream_url = EXCLUDED.stream_url, container_extension = EXCLUDED.container_extension,
			   rating = EXCLUDED.rating, year = EXCLUDED.year, added_at = EXCLUDED.added_at,
			   position = EXCLUDED.position, raw_payload = EXCLUDED.raw_payload, updated_at = NOW()`,
			it.ID, it.SourceID, string(it.Type), it.ItemID, it.Name, it.CategoryID, it.Icon, it.StreamURL,
			it.ContainerExtension, it.Rating, it.Year, it.AddedAt, it.Position, jsonArg(it.RawPayload),
		)
	}
	if err := p.sendBatch(ctx, b); err != nil {
		return fmt.Errorf("UpsertItems: %w", err)
	}
	return nil
}

// sendBatch runs b inside a single transaction.
func (p *Postgres) sendBatch(ctx context.Context, b *pgx.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, b).Close()
	})
}

func (p *Postgres) ReplacePrograms(ctx context.Context, sourceID int64, progs []models.EpgProgram) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM epg_programs WHERE source_id = $1`, sourceID); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		if len(progs) == 0 {
			return nil
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"epg_programs"},
			[]string{"source_id", "channel_id", "start_time", "end_time", "title", "description", "raw_payload"},
			pgx.CopyFromSlice(len(progs), func(i int) ([]any, error) {
				pr := progs[i]
				return []any{sourceID, pr.ChannelID, pr.StartTime, pr.EndTime, pr.Title, pr.Description, jsonArg(pr.RawPayload)}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ReplacePrograms: %w", err)
	}
	return nil
}

// --- sync status ---

func (p *Postgres) SetSyncStatus(ctx context.Context, st models.SyncStatus) error {
	if st.Scope == "" {
		st.Scope = models.SyncScopeAll
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO sync_status (source_id, scope, last_sync_at, status, error_message)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (source_id, scope) DO UPDATE SET
		   last_sync_at = COALESCE(EXCLUDED.last_sync_at, sync_status.last_sync_at),
		   status = EXCLUDED.status, error_message = EXCLUDED.error_message`,
		st.SourceID, st.Scope, st.LastSyncAt, st.Status, st.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("SetSyncStatus: %w", err)
	}
	return nil
}

const pgSyncColumns = `source_id, scope, last_sync_at, status, error_message`

func scanPgSyncStatus(row pgx.Row) (*models.SyncStatus, error) {
	var st models.SyncStatus
	if err := row.Scan(&st.SourceID, &st.Scope, &st.LastSyncAt, &st.Status, &st.ErrorMessage); err != nil {
		return nil, err
	}
	return &st, nil
}

func (p *Postgres) GetSyncStatus(ctx context.Context, sourceID int64) (*models.SyncStatus, error) {
	st, err := scanPgSyncStatus(p.pool.QueryRow(ctx,
		`SELECT `+pgSyncColumns+` FROM sync_status WHERE source_id = $1 AND scope = $2`, sourceID, models.SyncScopeAll))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetSyncStatus: %w", err)
	}
	return st, nil
}

func (p *Postgres) ListSyncStatuses(ctx context.Context) ([]models.SyncStatus, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+pgSyncColumns+` FROM sync_status ORDER BY source_id, scope`)
	if err != nil {
		return nil, fmt.Errorf("ListSyncStatuses: %w", err)
	}
	defer rows.Close()
	out := []models.SyncStatus{}
	for rows.Next() {
		st, err := scanPgSyncStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("ListSyncStatuses scan: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// --- reads ---

func (p *Postgres) ListCategories(ctx context.Context, f CategoryFilter) ([]models.Category, error) {
	q := `SELECT id, source_id, type, category_id, name, parent_id, position, hidden, raw_payload
	      FROM categories WHERE source_id = $1`
	args := []any{f.SourceID}
	if f.Type != "" {
		args = append(args, string(f.Type))
		q += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if !f.IncludeHidden {
		q += " AND NOT hidden"
	}
	q += " ORDER BY type, position, category_id"

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: %w", err)
	}
	defer rows.Close()
	out := []models.Category{}
	for rows.Next() {
		var c models.Category
		var typ string
		var raw []byte
		if err := rows.Scan(&c.ID, &c.SourceID, &typ, &c.CategoryID, &c.Name, &c.ParentID, &c.Position, &c.Hidden, &raw); err != nil {
			return nil, fmt.Errorf("ListCategories scan: %w", err)
		}
		c.Type = models.ItemType(typ)
		c.RawPayload = rawJSON(raw)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) ListItems(ctx context.Context, f ItemFilter) ([]models.PlaylistItem, error) {
	q := `SELECT i.id, i.source_id, i.type, i.item_id, i.name, i.category_id, i.icon, i.stream_url,
	        i.container_extension, i.rating, i.year, i.added_at, i.position, i.hidden, i.raw_payload
	      FROM playlist_items i WHERE i.source_id = $1`
	args := []any{f.SourceID}
	if f.Type != "" {
		args = append(args, string(f.Type))
		q += fmt.Sprintf(" AND i.type = $%d", len(args))
	}
	if f.CategoryID != "" {
		args = append(args, f.CategoryID)
		q += fmt.Sprintf(" AND i.category_id = $%d", len(args))
	}
	if !f.IncludeHidden {
		q += ` AND NOT i.hidden AND NOT EXISTS (
		         SELECT 1 FROM categories c
		         WHERE c.source_id = i.source_id AND c.type = i.type AND c.category_id = i.category_id AND c.hidden)`
	}
	q += " ORDER BY i.type, i.position, i.item_id"

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ListItems: %w", err)
	}
	defer rows.Close()
	out := []models.PlaylistItem{}
	for rows.Next() {
		var it models.PlaylistItem
		var typ string
		var raw []byte
		if err := rows.Scan(&it.ID, &it.SourceID, &typ, &it.ItemID, &it.Name, &it.CategoryID, &it.Icon, &it.StreamURL,
			&it.ContainerExtension, &it.Rating, &it.Year, &it.AddedAt, &it.Position, &it.Hidden, &raw); err != nil {
			return nil, fmt.Errorf("ListItems scan: %w", err)
		}
		it.Type = models.ItemType(typ)
		it.RawPayload = rawJSON(raw)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (p *Postgres) ListPrograms(ctx context.Context, sourceID int64, from, to int64) ([]models.EpgProgram, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT channel_id, source_id, start_time, end_time, title, description, raw_payload
		 FROM epg_programs
		 WHERE source_id = $1 AND start_time < $3 AND end_time > $2
		 ORDER BY channel_id, start_time`,
		sourceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("ListPrograms: %w", err)
	}
	defer rows.Close()
	out := []models.EpgProgram{}
	for rows.Next() {
		var pr models.EpgProgram
		var raw []byte
		if err := rows.Scan(&pr.ChannelID, &pr.SourceID, &pr.StartTime, &pr.EndTime, &pr.Title, &pr.Description, &raw); err != nil {
			return nil, fmt.Errorf("ListPrograms scan: %w", err)
		}
		pr.RawPayload = rawJSON(raw)
		out = append(out, pr)
	}
	return out, rows.Err()
}

// --- hide flags ---

func (p *Postgres) SetCategoryHidden(ctx context.Context, sourceID int64, t models.ItemType, categoryID string, hidden bool) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE categories SET hidden = $4 WHERE source_id = $1 AND type = $2 AND category_id = $3`,
		sourceID, string(t), categoryID, hidden)
	if err != nil {
		return fmt.Errorf("SetCategoryHidden: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetItemHidden(ctx context.Context, sourceID int64, t models.ItemType, itemID string, hidden bool) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE playlist_items SET hidden = $4 WHERE source_id = $1 AND type = $2 AND item_id = $3`,
		sourceID, string(t), itemID, hidden)
	if err != nil {
		return fmt.Errorf("SetItemHidden: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// jsonArg passes an empty payload as SQL NULL.
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}
