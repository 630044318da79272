// Package pgindex implements index.NoteIndex on Postgres through gorm. It is
// the hosted alternative to the embedded SQLite index; ranked search uses a
// stored tsvector column.
package pgindex

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/starford/carenotes/internal/apperr"
	"github.com/starford/carenotes/internal/index"
	"github.com/starford/carenotes/internal/models"
)

// Config holds the connection settings.
type Config struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DatabaseName string        `yaml:"database"`
	SSLMode      string        `yaml:"sslmode"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxLifetime  time.Duration `yaml:"max_lifetime"`
}

const (
	defaultMaxIdleConns = 5
	defaultMaxOpenConns = 10
	defaultMaxLifetime  = time.Minute
)

// DSN renders the libpq connection string.
func (c Config) DSN() string {
	ssl := c.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("user=%s password=%s host=%s port=%d dbname=%s sslmode=%s TimeZone=UTC",
		c.Username, c.Password, c.Host, c.Port, c.DatabaseName, ssl)
}

// DB is a Postgres-backed note index.
type DB struct {
	db *gorm.DB
}

var _ index.NoteIndex = (*DB)(nil)

// Open connects, configures the pool and applies the migration.
func Open(cfg Config) (*DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN(),
		PreferSimpleProtocol: true, // disables implicit prepared statement usage
	}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("pgindex: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("pgindex: pool: %w", err)
	}
	sqlDB.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, defaultMaxIdleConns))
	sqlDB.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, defaultMaxOpenConns))
	lifetime := cfg.MaxLifetime
	if lifetime <= 0 {
		lifetime = defaultMaxLifetime
	}
	sqlDB.SetConnMaxLifetime(lifetime)

	if err := Migration(db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// Migration creates the tables and indexes if they do not exist.
func Migration(db *gorm.DB) error {
	var sqls []string
	sqls = append(sqls, `
		CREATE TABLE IF NOT EXISTS notes (
			id          varchar(32) NOT NULL PRIMARY KEY,
			owner       varchar(64) NOT NULL,
			title       text NOT NULL DEFAULT '',
			content     text NOT NULL DEFAULT '',
			tags        jsonb NOT NULL DEFAULT '[]',
			starred     boolean NOT NULL DEFAULT false,
			shared      boolean NOT NULL DEFAULT false,
			share_token varchar(64) DEFAULT NULL UNIQUE,
			checksum    varchar(64) NOT NULL DEFAULT '',
			created_at  timestamptz NOT NULL,
			updated_at  timestamptz NOT NULL DEFAULT now(),
			search      tsvector GENERATED ALWAYS AS (
				setweight(to_tsvector('english', coalesce(title, '')), 'A') ||
				setweight(to_tsvector('english', content), 'B')
			) STORED
		);
	`)
	sqls = append(sqls, `
		CREATE TABLE IF NOT EXISTS attachments (
			path       text NOT NULL PRIMARY KEY,
			note_id    varchar(32) NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
			media_type varchar(128) NOT NULL,
			size       bigint NOT NULL DEFAULT 0,
			created_at timestamptz NOT NULL DEFAULT now()
		);
	`)

	sqls = append(sqls, `CREATE INDEX IF NOT EXISTS idx_notes_owner_created ON notes (owner, created_at DESC, id);`)
	sqls = append(sqls, `CREATE INDEX IF NOT EXISTS idx_notes_created ON notes (created_at DESC, id);`)
	sqls = append(sqls, `CREATE INDEX IF NOT EXISTS idx_notes_tags ON notes USING gin (tags);`)
	sqls = append(sqls, `CREATE INDEX IF NOT EXISTS idx_notes_search ON notes USING gin (search);`)
	sqls = append(sqls, `CREATE INDEX IF NOT EXISTS idx_attachments_note ON attachments (note_id);`)

	for _, sql := range sqls {
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("pgindex: migration: %w", err)
		}
	}
	return nil
}

// noteRecord is the scan target for note rows.
type noteRecord struct {
	ID         string
	Owner      string
	Title      string
	Content    string
	Tags       string
	Starred    bool
	Shared     bool
	ShareToken string
	Checksum   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r noteRecord) toModel() (models.Note, error) {
	n := models.Note{
		ID:         r.ID,
		Owner:      r.Owner,
		Title:      r.Title,
		Content:    r.Content,
		Tags:       []string{},
		IsStarred:  r.Starred,
		Shared:     r.Shared,
		ShareToken: r.ShareToken,
		Checksum:   r.Checksum,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.Tags != "" {
		if err := json.Unmarshal([]byte(r.Tags), &n.Tags); err != nil {
			return n, fmt.Errorf("pgindex: decode tags of %s: %w", r.ID, err)
		}
	}
	return n, nil
}

// UpsertNote inserts or replaces a note row.
func (d *DB) UpsertNote(ctx context.Context, n *models.Note) error {
	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)
	var token any
	if n.ShareToken != "" {
		token = n.ShareToken
	}
	err := d.db.WithContext(ctx).Exec(`
		INSERT INTO notes (id, owner, title, content, tags, starred, shared, share_token, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?::jsonb, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			owner       = EXCLUDED.owner,
			title       = EXCLUDED.title,
			content     = EXCLUDED.content,
			tags        = EXCLUDED.tags,
			starred     = EXCLUDED.starred,
			shared      = EXCLUDED.shared,
			share_token = EXCLUDED.share_token,
			checksum    = EXCLUDED.checksum,
			created_at  = EXCLUDED.created_at,
			updated_at  = EXCLUDED.updated_at
	`, n.ID, n.Owner, n.Title, n.Content, string(tagsJSON), n.IsStarred, n.Shared, token,
		n.Checksum, n.CreatedAt.UTC(), n.UpdatedAt.UTC()).Error
	if err != nil {
		return fmt.Errorf("pgindex: upsert note: %w", err)
	}
	return nil
}

// DeleteNote removes a note; attachments cascade.
func (d *DB) DeleteNote(ctx context.Context, id string) error {
	if err := d.db.WithContext(ctx).Exec(`DELETE FROM notes WHERE id = ?`, id).Error; err != nil {
		return fmt.Errorf("pgindex: delete note: %w", err)
	}
	return nil
}

// GetNote returns a single note by id.
func (d *DB) GetNote(ctx context.Context, id string) (*models.Note, error) {
	return d.one(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
}

// GetByShareToken returns the shared note published under token.
func (d *DB) GetByShareToken(ctx context.Context, token string) (*models.Note, error) {
	if token == "" {
		return nil, apperr.ErrNotFound
	}
	return d.one(ctx, `SELECT `+noteColumns+` FROM notes WHERE share_token = ? AND shared`, token)
}

func (d *DB) one(ctx context.Context, sql string, args ...any) (*models.Note, error) {
	records := []noteRecord{}
	if err := d.db.WithContext(ctx).Raw(sql, args...).Scan(&records).Error; err != nil {
		return nil, fmt.Errorf("pgindex: get note: %w", err)
	}
	if len(records) == 0 {
		return nil, apperr.ErrNotFound
	}
	n, err := records[0].toModel()
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ListNotes returns notes matching q.
func (d *DB) ListNotes(ctx context.Context, q index.ListQuery) ([]models.Note, error) {
	sql, params := buildListQuery(q)
	records := []noteRecord{}
	if err := d.db.WithContext(ctx).Raw(sql, params...).Scan(&records).Error; err != nil {
		return nil, fmt.Errorf("pgindex: list notes: %w", err)
	}
	out := make([]models.Note, 0, len(records))
	for _, r := range records {
		n, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// AllChecksums maps every note id to its checksum.
func (d *DB) AllChecksums(ctx context.Context) (map[string]string, error) {
	var rows []struct {
		ID       string
		Checksum string
	}
	if err := d.db.WithContext(ctx).Raw(`SELECT id, checksum FROM notes`).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("pgindex: all checksums: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.ID] = r.Checksum
	}
	return out, nil
}

// UpsertAttachment records an attachment blob.
func (d *DB) UpsertAttachment(ctx context.Context, a models.Attachment) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	err := d.db.WithContext(ctx).Exec(`
		INSERT INTO attachments (path, note_id, media_type, size, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			note_id    = EXCLUDED.note_id,
			media_type = EXCLUDED.media_type,
			size       = EXCLUDED.size
	`, a.Path, a.NoteID, models.NormalizeMediaType(a.MediaType), a.Size, created.UTC()).Error
	if err != nil {
		return fmt.Errorf("pgindex: upsert attachment: %w", err)
	}
	return nil
}

// DeleteAttachment forgets the attachment stored at path.
func (d *DB) DeleteAttachment(ctx context.Context, path string) error {
	if err := d.db.WithContext(ctx).Exec(`DELETE FROM attachments WHERE path = ?`, path).Error; err != nil {
		return fmt.Errorf("pgindex: delete attachment: %w", err)
	}
	return nil
}

// ListAttachments returns the attachments of noteIDs in one query.
func (d *DB) ListAttachments(ctx context.Context, viewerID string, noteIDs []string) ([]models.Attachment, error) {
	out := []models.Attachment{}
	if len(noteIDs) == 0 {
		return out, nil
	}
	sql, params := buildAttachmentQuery(viewerID, noteIDs)
	if err := d.db.WithContext(ctx).Raw(sql, params...).Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("pgindex: list attachments: %w", err)
	}
	return out, nil
}

// AllAttachmentPaths returns the path of every indexed attachment.
func (d *DB) AllAttachmentPaths(ctx context.Context) (map[string]struct{}, error) {
	var paths []string
	if err := d.db.WithContext(ctx).Raw(`SELECT path FROM attachments`).Scan(&paths).Error; err != nil {
		return nil, fmt.Errorf("pgindex: all attachment paths: %w", err)
	}
	out := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		out[p] = struct{}{}
	}
	return out, nil
}

// Close closes the connection pool.
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
