package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/tweet-ingestion-service/internal/config"
	"github.com/cyderes/tweet-ingestion-service/internal/logging"
	"github.com/cyderes/tweet-ingestion-service/internal/metrics"
	"github.com/cyderes/tweet-ingestion-service/internal/models"
)

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) GetHandles(ctx context.Context) ([]models.Account, error) {
	args := m.Called(ctx)
	accounts, _ := args.Get(0).([]models.Account)
	return accounts, args.Error(1)
}

func (m *MockStorage) StorePosts(ctx context.Context, posts []models.EnrichedPost) error {
	return m.Called(ctx, posts).Error(0)
}

func (m *MockStorage) GetPosts(ctx context.Context, limit int, offset int) ([]models.EnrichedPost, error) {
	args := m.Called(ctx, limit, offset)
	posts, _ := args.Get(0).([]models.EnrichedPost)
	return posts, args.Error(1)
}

func (m *MockStorage) GetPostByID(ctx context.Context, id string) (*models.EnrichedPost, error) {
	args := m.Called(ctx, id)
	post, _ := args.Get(0).(*models.EnrichedPost)
	return post, args.Error(1)
}

func (m *MockStorage) UpdateIngestionStatus(ctx context.Context, status models.IngestionStatus) error {
	return m.Called(ctx, status).Error(0)
}

func (m *MockStorage) GetIngestionStatus(ctx context.Context) (*models.IngestionStatus, error) {
	args := m.Called(ctx)
	status, _ := args.Get(0).(*models.IngestionStatus)
	return status, args.Error(1)
}

func (m *MockStorage) GetCheckpoint(ctx context.Context, accountID string) (*models.Checkpoint, error) {
	args := m.Called(ctx, accountID)
	checkpoint, _ := args.Get(0).(*models.Checkpoint)
	return checkpoint, args.Error(1)
}

func (m *MockStorage) SaveCheckpoint(ctx context.Context, checkpoint models.Checkpoint) error {
	return m.Called(ctx, checkpoint).Error(0)
}

func (m *MockStorage) Close() error {
	return m.Called().Error(0)
}

func newTestServer(store *MockStorage) http.Handler {
	s := NewServer(config.ServerConfig{Port: 0}, store, logging.NewTestLogger(&bytes.Buffer{}), metrics.New())
	return s.Handler()
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func samplePost() models.EnrichedPost {
	return models.EnrichedPost{
		Post:        models.Post{ID: "t1", Text: "Hello!! @bot http://x"},
		Username:    "acme",
		LastUpdated: time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
		UpdateType:  models.UpdateTypeBatch,
		Sentiment:   &models.Sentiment{Score: 0.5, Magnitude: 0.5},
		Entities:    []string{"bot"},
	}
}

func TestHandleHealth(t *testing.T) {
	rec := get(t, newTestServer(new(MockStorage)), "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHandlePosts(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "/posts", 10, 0},
		{"explicit", "/posts?limit=5&offset=20", 5, 20},
		{"invalid values fall back", "/posts?limit=abc&offset=-3", 10, 0},
		{"limit capped", "/posts?limit=1000", 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockStorage)
			store.On("GetPosts", mock.Anything, tt.wantLimit, tt.wantOffset).
				Return([]models.EnrichedPost{samplePost()}, nil)

			rec := get(t, newTestServer(store), tt.target)

			require.Equal(t, http.StatusOK, rec.Code)
			var body struct {
				Posts  []models.EnrichedPost `json:"posts"`
				Count  int                   `json:"count"`
				Limit  int                   `json:"limit"`
				Offset int                   `json:"offset"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, 1, body.Count)
			assert.Equal(t, tt.wantLimit, body.Limit)
			assert.Equal(t, tt.wantOffset, body.Offset)
			assert.Equal(t, "acme", body.Posts[0].Username)
			store.AssertExpectations(t)
		})
	}
}

func TestHandlePosts_StorageError(t *testing.T) {
	store := new(MockStorage)
	store.On("GetPosts", mock.Anything, 10, 0).Return(nil, errors.New("table missing"))

	rec := get(t, newTestServer(store), "/posts")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "table missing")
}

func TestHandlePostByID(t *testing.T) {
	post := samplePost()
	store := new(MockStorage)
	store.On("GetPostByID", mock.Anything, "t1").Return(&post, nil)
	store.On("GetPostByID", mock.Anything, "missing").Return(nil, nil)
	store.On("GetPostByID", mock.Anything, "broken").Return(nil, errors.New("timeout"))
	h := newTestServer(store)

	rec := get(t, h, "/posts/t1")
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.EnrichedPost
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, []string{"bot"}, got.Entities)
	assert.Equal(t, "batch", got.UpdateType)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/posts/missing").Code)
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/posts/broken").Code)
}

func TestHandleStatus(t *testing.T) {
	store := new(MockStorage)
	store.On("GetIngestionStatus", mock.Anything).Return(&models.IngestionStatus{
		RunID:           "run-1",
		Status:          models.StatusPartial,
		AccountsFailed:  1,
		RecordsIngested: 42,
	}, nil)

	rec := get(t, newTestServer(store), "/status")

	require.Equal(t, http.StatusOK, rec.Code)
	var status models.IngestionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.StatusPartial, status.Status)
	assert.Equal(t, 42, status.RecordsIngested)
}

func TestMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(new(MockStorage)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/posts", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(new(MockStorage)), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}
