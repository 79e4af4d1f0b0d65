package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"

	"github.com/cyderes/tweet-ingestion-service/internal/config"
	"github.com/cyderes/tweet-ingestion-service/internal/models"
)

const statusKey = "ingestion_status"

// postEncoder keeps empty lists and maps as such instead of writing NULL
var postEncoder = dynamodbattribute.NewEncoder(func(e *dynamodbattribute.Encoder) {
	e.EnableEmptyCollections = true
})

// DynamoDBStorage implements Storage interface using AWS DynamoDB
type DynamoDBStorage struct {
	client           dynamodbiface.DynamoDBAPI
	postsTable       string
	handlesTable     string
	statusTable      string
	checkpointsTable string
}

// NewDynamoDBStorage creates a new DynamoDB storage instance
func NewDynamoDBStorage(cfg config.StorageConfig) (*DynamoDBStorage, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	storage := newDynamoDBStorageWithClient(dynamodb.New(sess), cfg)

	for _, table := range []string{storage.postsTable, storage.handlesTable, storage.statusTable, storage.checkpointsTable} {
		if err := storage.ensureTable(table); err != nil {
			return nil, fmt.Errorf("failed to ensure table %s exists: %w", table, err)
		}
	}

	return storage, nil
}

func newDynamoDBStorageWithClient(client dynamodbiface.DynamoDBAPI, cfg config.StorageConfig) *DynamoDBStorage {
	return &DynamoDBStorage{
		client:           client,
		postsTable:       cfg.PostsTable,
		handlesTable:     cfg.HandlesTable,
		statusTable:      cfg.PostsTable + "_status",
		checkpointsTable: cfg.PostsTable + "_checkpoints",
	}
}

// ensureTable creates a table keyed by a string "id" if it doesn't exist
func (d *DynamoDBStorage) ensureTable(name string) error {
	_, err := d.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
	if err == nil {
		return nil // Table already exists
	}

	_, err = d.client.CreateTable(&dynamodb.CreateTableInput{
		TableName: aws.String(name),
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("id"),
				KeyType:       aws.String("HASH"),
			},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("id"),
				AttributeType: aws.String("S"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	})
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return d.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
}

// GetHandles scans the handles table
func (d *DynamoDBStorage) GetHandles(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	var unmarshalErr error

	err := d.client.ScanPagesWithContext(ctx, &dynamodb.ScanInput{
		TableName: aws.String(d.handlesTable),
	}, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		var batch []models.Account
		if unmarshalErr = dynamodbattribute.UnmarshalListOfMaps(page.Items, &batch); unmarshalErr != nil {
			return false
		}
		accounts = append(accounts, batch...)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan handles: %w", err)
	}
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal handles: %w", unmarshalErr)
	}

	return accounts, nil
}

// StorePosts writes the batch in a single transaction
func (d *DynamoDBStorage) StorePosts(ctx context.Context, posts []models.EnrichedPost) error {
	if err := checkBatch(posts); err != nil {
		return err
	}
	posts = lastWriteWins(posts)
	if len(posts) == 0 {
		return nil
	}

	items := make([]*dynamodb.TransactWriteItem, 0, len(posts))
	for _, post := range posts {
		item, err := encodePostItem(post)
		if err != nil {
			return fmt.Errorf("failed to marshal post %s: %w", post.ID, err)
		}
		items = append(items, &dynamodb.TransactWriteItem{
			Put: &dynamodb.Put{
				TableName: aws.String(d.postsTable),
				Item:      item,
			},
		})
	}

	_, err := d.client.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return fmt.Errorf("failed to store batch of %d posts: %w", len(posts), err)
	}

	return nil
}

// GetPosts retrieves posts from DynamoDB, skipping offset items of the scan
func (d *DynamoDBStorage) GetPosts(ctx context.Context, limit int, offset int) ([]models.EnrichedPost, error) {
	if limit <= 0 {
		return []models.EnrichedPost{}, nil
	}

	var items []map[string]*dynamodb.AttributeValue
	want := offset + limit

	err := d.client.ScanPagesWithContext(ctx, &dynamodb.ScanInput{
		TableName: aws.String(d.postsTable),
		Limit:     aws.Int64(int64(want)),
	}, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		items = append(items, page.Items...)
		return len(items) < want
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan posts: %w", err)
	}

	if offset >= len(items) {
		return []models.EnrichedPost{}, nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}

	posts := make([]models.EnrichedPost, 0, len(items))
	for _, item := range items {
		post, err := decodePostItem(item)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal posts: %w", err)
		}
		posts = append(posts, post)
	}

	return posts, nil
}

func encodePostItem(post models.EnrichedPost) (map[string]*dynamodb.AttributeValue, error) {
	av, err := postEncoder.Encode(post.Document())
	if err != nil {
		return nil, err
	}
	return av.M, nil
}

func decodePostItem(item map[string]*dynamodb.AttributeValue) (models.EnrichedPost, error) {
	var post models.EnrichedPost
	if err := dynamodbattribute.UnmarshalMap(item, &post); err != nil {
		return post, err
	}

	var doc map[string]interface{}
	if err := dynamodbattribute.UnmarshalMap(item, &doc); err != nil {
		return post, err
	}
	post.RestoreFields(doc)
	return post, nil
}

// GetPostByID retrieves a specific post by ID
func (d *DynamoDBStorage) GetPostByID(ctx context.Context, id string) (*models.EnrichedPost, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.postsTable),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(id)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get post %s: %w", id, err)
	}

	if result.Item == nil {
		return nil, nil // Post not found
	}

	post, err := decodePostItem(result.Item)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}

	return &post, nil
}

// UpdateIngestionStatus updates the ingestion status
func (d *DynamoDBStorage) UpdateIngestionStatus(ctx context.Context, status models.IngestionStatus) error {
	item, err := dynamodbattribute.MarshalMap(status)
	if err != nil {
		return fmt.Errorf("failed to marshal ingestion status: %w", err)
	}

	// Add a fixed key for the status record
	item["id"] = &dynamodb.AttributeValue{S: aws.String(statusKey)}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.statusTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to store ingestion status: %w", err)
	}

	return nil
}

// GetIngestionStatus retrieves the current ingestion status
func (d *DynamoDBStorage) GetIngestionStatus(ctx context.Context) (*models.IngestionStatus, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.statusTable),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(statusKey)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get ingestion status: %w", err)
	}

	if result.Item == nil {
		// Return default status if not found
		return &models.IngestionStatus{
			Status: models.StatusNeverRun,
		}, nil
	}

	var status models.IngestionStatus
	if err := dynamodbattribute.UnmarshalMap(result.Item, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ingestion status: %w", err)
	}

	return &status, nil
}

// GetCheckpoint returns the saved cursor of an account, or nil when none is saved
func (d *DynamoDBStorage) GetCheckpoint(ctx context.Context, accountID string) (*models.Checkpoint, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.checkpointsTable),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(accountID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint for %s: %w", accountID, err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var checkpoint models.Checkpoint
	if err := dynamodbattribute.UnmarshalMap(result.Item, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// SaveCheckpoint stores the cursor of an account; an empty cursor deletes it
func (d *DynamoDBStorage) SaveCheckpoint(ctx context.Context, checkpoint models.Checkpoint) error {
	key := map[string]*dynamodb.AttributeValue{
		"id": {S: aws.String(checkpoint.AccountID)},
	}

	if checkpoint.Cursor == "" {
		_, err := d.client.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(d.checkpointsTable),
			Key:       key,
		})
		if err != nil {
			return fmt.Errorf("failed to clear checkpoint for %s: %w", checkpoint.AccountID, err)
		}
		return nil
	}

	item, err := dynamodbattribute.MarshalMap(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	item["id"] = key["id"]

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.checkpointsTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", checkpoint.AccountID, err)
	}
	return nil
}

// Close closes the DynamoDB connection
func (d *DynamoDBStorage) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}
