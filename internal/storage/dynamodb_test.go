package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/tweet-ingestion-service/internal/config"
	"github.com/cyderes/tweet-ingestion-service/internal/models"
)

// MockDynamoDB is a mock implementation of the calls DynamoDBStorage makes
type MockDynamoDB struct {
	dynamodbiface.DynamoDBAPI
	mock.Mock
}

func (m *MockDynamoDB) ScanPagesWithContext(ctx aws.Context, input *dynamodb.ScanInput, fn func(*dynamodb.ScanOutput, bool) bool, _ ...request.Option) error {
	args := m.Called(ctx, input)
	pages, _ := args.Get(0).([]*dynamodb.ScanOutput)
	for i, page := range pages {
		if !fn(page, i == len(pages)-1) {
			break
		}
	}
	return args.Error(1)
}

func (m *MockDynamoDB) TransactWriteItemsWithContext(ctx aws.Context, input *dynamodb.TransactWriteItemsInput, _ ...request.Option) (*dynamodb.TransactWriteItemsOutput, error) {
	args := m.Called(ctx, input)
	return &dynamodb.TransactWriteItemsOutput{}, args.Error(0)
}

func (m *MockDynamoDB) GetItemWithContext(ctx aws.Context, input *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, input)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}

func (m *MockDynamoDB) PutItemWithContext(ctx aws.Context, input *dynamodb.PutItemInput, _ ...request.Option) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, input)
	return &dynamodb.PutItemOutput{}, args.Error(0)
}

func (m *MockDynamoDB) DeleteItemWithContext(ctx aws.Context, input *dynamodb.DeleteItemInput, _ ...request.Option) (*dynamodb.DeleteItemOutput, error) {
	args := m.Called(ctx, input)
	return &dynamodb.DeleteItemOutput{}, args.Error(0)
}

func newTestDynamoDB() (*DynamoDBStorage, *MockDynamoDB) {
	client := new(MockDynamoDB)
	return newDynamoDBStorageWithClient(client, config.StorageConfig{
		PostsTable:   "tb-tweets",
		HandlesTable: "tb-handles",
	}), client
}

func enriched(id, username string) models.EnrichedPost {
	return models.EnrichedPost{
		Post:        models.Post{ID: id, Text: "text " + id},
		Username:    username,
		LastUpdated: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		UpdateType:  models.UpdateTypeBatch,
		Sentiment:   &models.Sentiment{Score: 0.5, Magnitude: 0.5},
		Entities:    []string{"bot"},
	}
}

// withUpstreamFields adds keys a configured TWEET_FIELDS selection can return
// that the typed post view does not model
func withUpstreamFields(post models.EnrichedPost) models.EnrichedPost {
	post.Fields = map[string]interface{}{
		"id":                 post.ID,
		"text":               post.Text,
		"possibly_sensitive": true,
		"geo": map[string]interface{}{
			"place_id":    "p",
			"coordinates": map[string]interface{}{"type": "Point"},
		},
	}
	return post
}

func TestDynamoDBStorage_GetHandles(t *testing.T) {
	store, client := newTestDynamoDB()

	page1, err := dynamodbattribute.MarshalList([]models.Account{{ID: "18839785", Username: "acme"}})
	require.NoError(t, err)
	page2, err := dynamodbattribute.MarshalList([]models.Account{{ID: "2244994945", Username: "devs"}})
	require.NoError(t, err)
	toItems := func(list []*dynamodb.AttributeValue) []map[string]*dynamodb.AttributeValue {
		items := make([]map[string]*dynamodb.AttributeValue, len(list))
		for i, v := range list {
			items[i] = v.M
		}
		return items
	}

	client.On("ScanPagesWithContext", mock.Anything, mock.MatchedBy(func(in *dynamodb.ScanInput) bool {
		return aws.StringValue(in.TableName) == "tb-handles"
	})).Return([]*dynamodb.ScanOutput{{Items: toItems(page1)}, {Items: toItems(page2)}}, nil)

	accounts, err := store.GetHandles(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []models.Account{
		{ID: "18839785", Username: "acme"},
		{ID: "2244994945", Username: "devs"},
	}, accounts)
}

func TestDynamoDBStorage_StorePosts_SingleTransaction(t *testing.T) {
	store, client := newTestDynamoDB()

	var captured *dynamodb.TransactWriteItemsInput
	client.On("TransactWriteItemsWithContext", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(*dynamodb.TransactWriteItemsInput)
		}).
		Return(nil).Once()

	posts := []models.EnrichedPost{enriched("t1", "acme"), enriched("t2", "acme")}
	require.NoError(t, store.StorePosts(context.Background(), posts))

	require.NotNil(t, captured)
	require.Len(t, captured.TransactItems, 2)
	put := captured.TransactItems[0].Put
	assert.Equal(t, "tb-tweets", aws.StringValue(put.TableName))
	assert.Equal(t, "t1", aws.StringValue(put.Item["id"].S))
	assert.Equal(t, "acme", aws.StringValue(put.Item["username"].S))
	assert.Equal(t, "batch", aws.StringValue(put.Item["update_type"].S))
	assert.Contains(t, put.Item, "sentiment")
	client.AssertExpectations(t)
}

func TestDynamoDBStorage_StorePosts_DuplicateIDsLastWins(t *testing.T) {
	store, client := newTestDynamoDB()

	var captured *dynamodb.TransactWriteItemsInput
	client.On("TransactWriteItemsWithContext", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(*dynamodb.TransactWriteItemsInput)
		}).
		Return(nil)

	first := enriched("t1", "acme")
	second := enriched("t1", "acme")
	second.Text = "edited"

	require.NoError(t, store.StorePosts(context.Background(), []models.EnrichedPost{first, second}))
	require.Len(t, captured.TransactItems, 1)
	assert.Equal(t, "edited", aws.StringValue(captured.TransactItems[0].Put.Item["text"].S))
}

func TestDynamoDBStorage_StorePosts_EmptyAndOversized(t *testing.T) {
	store, client := newTestDynamoDB()

	require.NoError(t, store.StorePosts(context.Background(), nil))

	big := make([]models.EnrichedPost, MaxBatchSize+1)
	err := store.StorePosts(context.Background(), big)
	assert.ErrorIs(t, err, ErrBatchTooLarge)

	client.AssertNotCalled(t, "TransactWriteItemsWithContext", mock.Anything, mock.Anything)
}

func TestDynamoDBStorage_StorePosts_Error(t *testing.T) {
	store, client := newTestDynamoDB()
	client.On("TransactWriteItemsWithContext", mock.Anything, mock.Anything).Return(errors.New("TransactionCanceledException"))

	err := store.StorePosts(context.Background(), []models.EnrichedPost{enriched("t1", "acme")})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to store batch of 1 posts")
}

func TestDynamoDBStorage_StorePosts_KeepsUpstreamFieldsAndEmptyEntities(t *testing.T) {
	store, client := newTestDynamoDB()

	var captured *dynamodb.TransactWriteItemsInput
	client.On("TransactWriteItemsWithContext", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(*dynamodb.TransactWriteItemsInput)
		}).
		Return(nil).Once()

	post := withUpstreamFields(enriched("t1", "acme"))
	post.Sentiment = nil
	post.Entities = []string{}
	require.NoError(t, store.StorePosts(context.Background(), []models.EnrichedPost{post}))

	require.NotNil(t, captured)
	item := captured.TransactItems[0].Put.Item
	assert.Equal(t, true, aws.BoolValue(item["possibly_sensitive"].BOOL))
	assert.Contains(t, item["geo"].M, "coordinates")
	assert.NotContains(t, item, "sentiment")
	require.Contains(t, item, "entities")
	assert.Nil(t, item["entities"].NULL)
	assert.NotNil(t, item["entities"].L)
	assert.Empty(t, item["entities"].L)
}

func TestDynamoDBStorage_GetPostByID_RestoresFields(t *testing.T) {
	store, client := newTestDynamoDB()

	item, err := encodePostItem(withUpstreamFields(enriched("t1", "acme")))
	require.NoError(t, err)
	item["entities"] = &dynamodb.AttributeValue{NULL: aws.Bool(true)}

	client.On("GetItemWithContext", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: item}, nil)

	post, err := store.GetPostByID(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, post)
	assert.Equal(t, []string{}, post.Entities)
	assert.Equal(t, true, post.Fields["possibly_sensitive"])
	assert.NotContains(t, post.Fields, "username")
}

func TestDynamoDBStorage_GetPostByID(t *testing.T) {
	store, client := newTestDynamoDB()

	item, err := dynamodbattribute.MarshalMap(enriched("t1", "acme"))
	require.NoError(t, err)

	client.On("GetItemWithContext", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		return aws.StringValue(in.Key["id"].S) == "t1"
	})).Return(&dynamodb.GetItemOutput{Item: item}, nil)
	client.On("GetItemWithContext", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	post, err := store.GetPostByID(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, post)
	assert.Equal(t, "acme", post.Username)
	assert.Equal(t, 0.5, post.Sentiment.Score)
	assert.Equal(t, []string{"bot"}, post.Entities)

	missing, err := store.GetPostByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDynamoDBStorage_GetIngestionStatus_NeverRun(t *testing.T) {
	store, client := newTestDynamoDB()
	client.On("GetItemWithContext", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	status, err := store.GetIngestionStatus(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.StatusNeverRun, status.Status)
}

func TestDynamoDBStorage_UpdateIngestionStatus(t *testing.T) {
	store, client := newTestDynamoDB()
	client.On("PutItemWithContext", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		return aws.StringValue(in.TableName) == "tb-tweets_status" &&
			aws.StringValue(in.Item["id"].S) == statusKey &&
			aws.StringValue(in.Item["status"].S) == models.StatusSuccess
	})).Return(nil)

	err := store.UpdateIngestionStatus(context.Background(), models.IngestionStatus{RunID: "r1", Status: models.StatusSuccess})

	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestDynamoDBStorage_Checkpoints(t *testing.T) {
	store, client := newTestDynamoDB()

	client.On("PutItemWithContext", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		return aws.StringValue(in.TableName) == "tb-tweets_checkpoints" &&
			aws.StringValue(in.Item["id"].S) == "18839785" &&
			aws.StringValue(in.Item["cursor"].S) == "C1"
	})).Return(nil).Once()
	client.On("DeleteItemWithContext", mock.Anything, mock.MatchedBy(func(in *dynamodb.DeleteItemInput) bool {
		return aws.StringValue(in.Key["id"].S) == "18839785"
	})).Return(nil).Once()

	ctx := context.Background()
	require.NoError(t, store.SaveCheckpoint(ctx, models.Checkpoint{AccountID: "18839785", Cursor: "C1"}))
	require.NoError(t, store.SaveCheckpoint(ctx, models.Checkpoint{AccountID: "18839785"}))
	client.AssertExpectations(t)
}

func TestDynamoDBStorage_GetCheckpoint_Missing(t *testing.T) {
	store, client := newTestDynamoDB()
	client.On("GetItemWithContext", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	checkpoint, err := store.GetCheckpoint(context.Background(), "18839785")

	require.NoError(t, err)
	assert.Nil(t, checkpoint)
}
