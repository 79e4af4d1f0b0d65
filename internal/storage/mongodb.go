package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cyderes/tweet-ingestion-service/internal/config"
	"github.com/cyderes/tweet-ingestion-service/internal/models"
)

// MongoDBStorage implements Storage interface using MongoDB
type MongoDBStorage struct {
	client      *mongo.Client
	posts       *mongo.Collection
	handles     *mongo.Collection
	status      *mongo.Collection
	checkpoints *mongo.Collection
}

// NewMongoDBStorage connects to MongoDB and verifies the connection
func NewMongoDBStorage(ctx context.Context, cfg config.StorageConfig) (*MongoDBStorage, error) {
	if cfg.MongoDBURI == "" {
		return nil, fmt.Errorf("MONGODB_URI is required for mongodb storage")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoDBURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(cfg.MongoDatabase)
	return &MongoDBStorage{
		client:      client,
		posts:       db.Collection(cfg.PostsTable),
		handles:     db.Collection(cfg.HandlesTable),
		status:      db.Collection(cfg.PostsTable + "_status"),
		checkpoints: db.Collection(cfg.PostsTable + "_checkpoints"),
	}, nil
}

// GetHandles reads every {username, id} record of the handles collection
func (m *MongoDBStorage) GetHandles(ctx context.Context) ([]models.Account, error) {
	cursor, err := m.handles.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to query handles: %w", err)
	}

	var accounts []models.Account
	if err := cursor.All(ctx, &accounts); err != nil {
		return nil, fmt.Errorf("failed to decode handles: %w", err)
	}
	return accounts, nil
}

// postWriteModels turns a batch into id-keyed replace-or-insert operations
func postWriteModels(posts []models.EnrichedPost) []mongo.WriteModel {
	writes := make([]mongo.WriteModel, 0, len(posts))
	for _, post := range posts {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: post.ID}}).
			SetReplacement(post.Document()).
			SetUpsert(true))
	}
	return writes
}

// StorePosts upserts the batch inside one transaction
func (m *MongoDBStorage) StorePosts(ctx context.Context, posts []models.EnrichedPost) error {
	if err := checkBatch(posts); err != nil {
		return err
	}
	if len(posts) == 0 {
		return nil
	}

	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	writes := postWriteModels(posts)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return m.posts.BulkWrite(sc, writes, options.BulkWrite().SetOrdered(true))
	})
	if err != nil {
		return fmt.Errorf("failed to store batch of %d posts: %w", len(posts), err)
	}

	return nil
}

// GetPosts retrieves posts ordered by id
func (m *MongoDBStorage) GetPosts(ctx context.Context, limit int, offset int) ([]models.EnrichedPost, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := m.posts.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}

	defer cursor.Close(ctx)

	posts := []models.EnrichedPost{}
	for cursor.Next(ctx) {
		post, err := decodePostBSON(cursor.Current)
		if err != nil {
			return nil, fmt.Errorf("failed to decode posts: %w", err)
		}
		posts = append(posts, post)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to read posts: %w", err)
	}
	return posts, nil
}

// GetPostByID retrieves a specific post by ID
func (m *MongoDBStorage) GetPostByID(ctx context.Context, id string) (*models.EnrichedPost, error) {
	raw, err := m.posts.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil // Post not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post %s: %w", id, err)
	}

	post, err := decodePostBSON(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode post %s: %w", id, err)
	}
	return &post, nil
}

// decodePostBSON reads the typed view and the full document, nested documents as maps
func decodePostBSON(raw bson.Raw) (models.EnrichedPost, error) {
	var post models.EnrichedPost
	if err := bson.Unmarshal(raw, &post); err != nil {
		return post, err
	}

	dec, err := bson.NewDecoder(bsonrw.NewBSONDocumentReader(raw))
	if err != nil {
		return post, err
	}
	dec.DefaultDocumentM()

	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return post, err
	}
	post.RestoreFields(doc)
	return post, nil
}

// UpdateIngestionStatus updates the ingestion status
func (m *MongoDBStorage) UpdateIngestionStatus(ctx context.Context, status models.IngestionStatus) error {
	_, err := m.status.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: statusKey}},
		status,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store ingestion status: %w", err)
	}
	return nil
}

// GetIngestionStatus retrieves the current ingestion status
func (m *MongoDBStorage) GetIngestionStatus(ctx context.Context) (*models.IngestionStatus, error) {
	var status models.IngestionStatus
	err := m.status.FindOne(ctx, bson.D{{Key: "_id", Value: statusKey}}).Decode(&status)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &models.IngestionStatus{Status: models.StatusNeverRun}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ingestion status: %w", err)
	}
	return &status, nil
}

// GetCheckpoint returns the saved cursor of an account, or nil when none is saved
func (m *MongoDBStorage) GetCheckpoint(ctx context.Context, accountID string) (*models.Checkpoint, error) {
	var checkpoint models.Checkpoint
	err := m.checkpoints.FindOne(ctx, bson.D{{Key: "_id", Value: accountID}}).Decode(&checkpoint)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint for %s: %w", accountID, err)
	}
	return &checkpoint, nil
}

// SaveCheckpoint stores the cursor of an account; an empty cursor deletes it
func (m *MongoDBStorage) SaveCheckpoint(ctx context.Context, checkpoint models.Checkpoint) error {
	filter := bson.D{{Key: "_id", Value: checkpoint.AccountID}}

	if checkpoint.Cursor == "" {
		if _, err := m.checkpoints.DeleteOne(ctx, filter); err != nil {
			return fmt.Errorf("failed to clear checkpoint for %s: %w", checkpoint.AccountID, err)
		}
		return nil
	}

	if _, err := m.checkpoints.ReplaceOne(ctx, filter, checkpoint, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", checkpoint.AccountID, err)
	}
	return nil
}

// Close disconnects the MongoDB client
func (m *MongoDBStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
