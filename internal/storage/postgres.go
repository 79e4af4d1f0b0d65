package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/cyderes/tweet-ingestion-service/internal/config"
	"github.com/cyderes/tweet-ingestion-service/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	upsertPostQuery = `INSERT INTO posts (id, username, last_updated, document)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, last_updated = EXCLUDED.last_updated, document = EXCLUDED.document`

	upsertStatusQuery = `INSERT INTO ingestion_status (id, document)
VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document`

	upsertCheckpointQuery = `INSERT INTO checkpoints (account_id, cursor, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (account_id) DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = EXCLUDED.updated_at`
)

// PostgreSQLStorage implements Storage interface using PostgreSQL JSONB documents
type PostgreSQLStorage struct {
	db *sql.DB
}

// NewPostgreSQLStorage applies migrations and opens the connection pool
func NewPostgreSQLStorage(ctx context.Context, cfg config.StorageConfig) (*PostgreSQLStorage, error) {
	if cfg.PostgresURI == "" {
		return nil, fmt.Errorf("POSTGRES_URI is required for postgresql storage")
	}

	if err := runMigrations(cfg.PostgresURI); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newPostgreSQLStorageWithDB(db), nil
}

func newPostgreSQLStorageWithDB(db *sql.DB) *PostgreSQLStorage {
	return &PostgreSQLStorage{db: db}
}

func runMigrations(databaseURL string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// GetHandles reads the handles table
func (p *PostgreSQLStorage) GetHandles(ctx context.Context) ([]models.Account, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, username FROM handles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query handles: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var account models.Account
		if err := rows.Scan(&account.ID, &account.Username); err != nil {
			return nil, fmt.Errorf("failed to scan handle: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read handles: %w", err)
	}
	return accounts, nil
}

// StorePosts upserts the batch in one transaction
func (p *PostgreSQLStorage) StorePosts(ctx context.Context, posts []models.EnrichedPost) error {
	if err := checkBatch(posts); err != nil {
		return err
	}
	if len(posts) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, post := range posts {
		doc, err := json.Marshal(post)
		if err != nil {
			return fmt.Errorf("failed to marshal post %s: %w", post.ID, err)
		}
		if _, err := tx.ExecContext(ctx, upsertPostQuery, post.ID, post.Username, post.LastUpdated, doc); err != nil {
			return fmt.Errorf("failed to store post %s: %w", post.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch of %d posts: %w", len(posts), err)
	}
	return nil
}

// GetPosts retrieves posts ordered by id
func (p *PostgreSQLStorage) GetPosts(ctx context.Context, limit int, offset int) ([]models.EnrichedPost, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT document FROM posts ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	posts := []models.EnrichedPost{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		var post models.EnrichedPost
		if err := json.Unmarshal(doc, &post); err != nil {
			return nil, fmt.Errorf("failed to unmarshal post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read posts: %w", err)
	}
	return posts, nil
}

// GetPostByID retrieves a specific post by ID
func (p *PostgreSQLStorage) GetPostByID(ctx context.Context, id string) (*models.EnrichedPost, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT document FROM posts WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Post not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post %s: %w", id, err)
	}

	var post models.EnrichedPost
	if err := json.Unmarshal(doc, &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}
	return &post, nil
}

// UpdateIngestionStatus updates the ingestion status
func (p *PostgreSQLStorage) UpdateIngestionStatus(ctx context.Context, status models.IngestionStatus) error {
	doc, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal ingestion status: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, upsertStatusQuery, statusKey, doc); err != nil {
		return fmt.Errorf("failed to store ingestion status: %w", err)
	}
	return nil
}

// GetIngestionStatus retrieves the current ingestion status
func (p *PostgreSQLStorage) GetIngestionStatus(ctx context.Context) (*models.IngestionStatus, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT document FROM ingestion_status WHERE id = $1`, statusKey).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.IngestionStatus{Status: models.StatusNeverRun}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ingestion status: %w", err)
	}

	var status models.IngestionStatus
	if err := json.Unmarshal(doc, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ingestion status: %w", err)
	}
	return &status, nil
}

// GetCheckpoint returns the saved cursor of an account, or nil when none is saved
func (p *PostgreSQLStorage) GetCheckpoint(ctx context.Context, accountID string) (*models.Checkpoint, error) {
	checkpoint := models.Checkpoint{AccountID: accountID}
	err := p.db.QueryRowContext(ctx,
		`SELECT cursor, updated_at FROM checkpoints WHERE account_id = $1`, accountID,
	).Scan(&checkpoint.Cursor, &checkpoint.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint for %s: %w", accountID, err)
	}
	return &checkpoint, nil
}

// SaveCheckpoint stores the cursor of an account; an empty cursor deletes it
func (p *PostgreSQLStorage) SaveCheckpoint(ctx context.Context, checkpoint models.Checkpoint) error {
	if checkpoint.Cursor == "" {
		if _, err := p.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE account_id = $1`, checkpoint.AccountID); err != nil {
			return fmt.Errorf("failed to clear checkpoint for %s: %w", checkpoint.AccountID, err)
		}
		return nil
	}

	if _, err := p.db.ExecContext(ctx, upsertCheckpointQuery, checkpoint.AccountID, checkpoint.Cursor, checkpoint.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", checkpoint.AccountID, err)
	}
	return nil
}

// Close closes the connection pool
func (p *PostgreSQLStorage) Close() error {
	return p.db.Close()
}
