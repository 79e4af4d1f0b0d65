package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyderes/tweet-ingestion-service/internal/config"
	"github.com/cyderes/tweet-ingestion-service/internal/models"
)

// ErrBatchTooLarge is returned when a batch exceeds what the backend can commit atomically
var ErrBatchTooLarge = errors.New("batch exceeds atomic write limit")

// MaxBatchSize is the largest batch every backend commits atomically
const MaxBatchSize = 100

// HandleReader loads the tracked accounts
type HandleReader interface {
	GetHandles(ctx context.Context) ([]models.Account, error)
}

// PostWriter commits one page of enriched posts as a single atomic batch,
// overwriting documents with the same post id
type PostWriter interface {
	StorePosts(ctx context.Context, posts []models.EnrichedPost) error
}

// CheckpointStore persists pagination cursors between runs
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, accountID string) (*models.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, checkpoint models.Checkpoint) error
}

// Storage interface defines the contract for data storage
type Storage interface {
	HandleReader
	PostWriter
	CheckpointStore
	GetPosts(ctx context.Context, limit int, offset int) ([]models.EnrichedPost, error)
	GetPostByID(ctx context.Context, id string) (*models.EnrichedPost, error)
	UpdateIngestionStatus(ctx context.Context, status models.IngestionStatus) error
	GetIngestionStatus(ctx context.Context) (*models.IngestionStatus, error)
	Close() error
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "dynamodb":
		return NewDynamoDBStorage(cfg)
	case "mongodb":
		return NewMongoDBStorage(ctx, cfg)
	case "postgresql":
		return NewPostgreSQLStorage(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

func checkBatch(posts []models.EnrichedPost) error {
	if len(posts) > MaxBatchSize {
		return fmt.Errorf("%w: %d posts", ErrBatchTooLarge, len(posts))
	}
	return nil
}

// lastWriteWins drops earlier duplicates of a post id, keeping the last occurrence
// in its original position order
func lastWriteWins(posts []models.EnrichedPost) []models.EnrichedPost {
	last := make(map[string]int, len(posts))
	for i, post := range posts {
		last[post.ID] = i
	}
	if len(last) == len(posts) {
		return posts
	}

	out := make([]models.EnrichedPost, 0, len(last))
	for i, post := range posts {
		if last[post.ID] == i {
			out = append(out, post)
		}
	}
	return out
}
