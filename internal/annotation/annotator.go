package annotation

import (
	"context"
	"fmt"

	"github.com/cyderes/tweet-ingestion-service/internal/models"
	"github.com/cyderes/tweet-ingestion-service/internal/retry"
)

// AnnotationError is returned when a post could not be annotated within the retry policy
type AnnotationError struct {
	PostID   string
	Attempts int
	Err      error
}

func (e *AnnotationError) Error() string {
	return fmt.Sprintf("annotation of post %s failed after %d attempts: %v", e.PostID, e.Attempts, e.Err)
}

func (e *AnnotationError) Unwrap() error {
	return e.Err
}

// Annotator merges sentiment and entities into posts
type Annotator struct {
	analyzer Analyzer
	policy   retry.Policy
}

// NewAnnotator wraps analyzer calls in policy
func NewAnnotator(analyzer Analyzer, policy retry.Policy) *Annotator {
	return &Annotator{
		analyzer: analyzer,
		policy:   policy,
	}
}

// Annotate analyzes the cleaned text of post and overwrites its sentiment and entities.
// The post is only modified when both the sentiment and the entity call succeed.
// Cancellation of ctx is returned as the bare context error.
func (a *Annotator) Annotate(ctx context.Context, post *models.EnrichedPost) error {
	text := Clean(post.Text)

	var (
		sentiment models.Sentiment
		entities  []string
		attempts  int
	)

	err := a.policy.Do(ctx, func() error {
		attempts++

		s, err := a.analyzer.AnalyzeSentiment(ctx, text)
		if err != nil {
			return fmt.Errorf("analyze sentiment: %w", err)
		}
		e, err := a.analyzer.AnalyzeEntities(ctx, text)
		if err != nil {
			return fmt.Errorf("analyze entities: %w", err)
		}

		sentiment, entities = s, e
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &AnnotationError{PostID: post.ID, Attempts: attempts, Err: err}
	}

	if entities == nil {
		entities = []string{}
	}
	post.Sentiment = &sentiment
	post.Entities = entities
	return nil
}
