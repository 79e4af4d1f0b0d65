package annotation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cyderes/tweet-ingestion-service/internal/config"
	"github.com/cyderes/tweet-ingestion-service/internal/models"
)

const (
	documentTypePlainText = "PLAIN_TEXT"
	encodingUTF8          = "UTF8"
)

// Analyzer is the NLP capability the annotator depends on
type Analyzer interface {
	AnalyzeSentiment(ctx context.Context, text string) (models.Sentiment, error)
	AnalyzeEntities(ctx context.Context, text string) ([]string, error)
}

// NLPClient calls the Natural Language REST API
type NLPClient struct {
	baseURL     string
	apiKey      string
	accessToken string
	client      *http.Client
}

// NewNLPClient creates a client for the documents:analyze* operations
func NewNLPClient(cfg config.AnnotationConfig) *NLPClient {
	return &NLPClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		accessToken: cfg.AccessToken,
		client:      &http.Client{Timeout: cfg.Timeout},
	}
}

type document struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

type analyzeRequest struct {
	Document     document `json:"document"`
	EncodingType string   `json:"encodingType"`
}

type sentimentResponse struct {
	DocumentSentiment struct {
		Score     float64 `json:"score"`
		Magnitude float64 `json:"magnitude"`
	} `json:"documentSentiment"`
}

type entitiesResponse struct {
	Entities []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"entities"`
}

// AnalyzeSentiment returns the document sentiment of text
func (c *NLPClient) AnalyzeSentiment(ctx context.Context, text string) (models.Sentiment, error) {
	var resp sentimentResponse
	if err := c.post(ctx, "analyzeSentiment", text, &resp); err != nil {
		return models.Sentiment{}, err
	}
	return models.Sentiment{
		Score:     resp.DocumentSentiment.Score,
		Magnitude: resp.DocumentSentiment.Magnitude,
	}, nil
}

// AnalyzeEntities returns the names of the entities found in text, in response order
func (c *NLPClient) AnalyzeEntities(ctx context.Context, text string) ([]string, error) {
	var resp entitiesResponse
	if err := c.post(ctx, "analyzeEntities", text, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Entities))
	for _, entity := range resp.Entities {
		names = append(names, entity.Name)
	}
	return names, nil
}

func (c *NLPClient) post(ctx context.Context, method, text string, out interface{}) error {
	payload, err := json.Marshal(analyzeRequest{
		Document:     document{Content: text, Type: documentTypePlainText},
		EncodingType: encodingUTF8,
	})
	if err != nil {
		return fmt.Errorf("nlp: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/documents:%s", c.baseURL, method)
	if c.apiKey != "" {
		endpoint += "?key=" + url.QueryEscape(c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("nlp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("nlp: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("nlp: %s unexpected status %s: %s", method, resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("nlp: decode %s response: %w", method, err)
	}
	return nil
}
