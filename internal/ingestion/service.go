package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cyderes/tweet-ingestion-service/internal/annotation"
	"github.com/cyderes/tweet-ingestion-service/internal/config"
	"github.com/cyderes/tweet-ingestion-service/internal/logging"
	"github.com/cyderes/tweet-ingestion-service/internal/metrics"
	"github.com/cyderes/tweet-ingestion-service/internal/models"
	"github.com/cyderes/tweet-ingestion-service/internal/scheduler"
	"github.com/cyderes/tweet-ingestion-service/internal/storage"
	"github.com/cyderes/tweet-ingestion-service/internal/twitter"
)

// Fetcher returns one page of an account's timeline
type Fetcher interface {
	FetchPage(ctx context.Context, accountID, cursor string) (*twitter.Page, error)
}

// Annotator enriches a post with sentiment and entities
type Annotator interface {
	Annotate(ctx context.Context, post *models.EnrichedPost) error
}

// AccountResult counts what one account contributed to a run
type AccountResult struct {
	Pages int
	Posts int
}

// Service walks every tracked account page by page: fetch, annotate, persist
type Service struct {
	config    config.IngestionConfig
	storage   storage.Storage
	fetcher   Fetcher
	annotator Annotator
	logger    logging.Logger
	metrics   *metrics.Metrics

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewService creates a new ingestion service
func NewService(cfg config.IngestionConfig, store storage.Storage, fetcher Fetcher, annotator Annotator, logger logging.Logger, m *metrics.Metrics) *Service {
	return &Service{
		config:    cfg,
		storage:   store,
		fetcher:   fetcher,
		annotator: annotator,
		logger:    logger,
		metrics:   m,
		sleep:     sleepContext,
		now:       time.Now,
	}
}

// Start runs one batch immediately and then on the configured cron schedule until ctx is done
func (s *Service) Start(ctx context.Context) error {
	sched, err := scheduler.New(s.config.Timezone, s.logger)
	if err != nil {
		return err
	}
	if err := sched.AddJob("ingest", s.config.Schedule, s.config.RunTimeout, s.RunBatch); err != nil {
		return err
	}

	if err := s.RunBatch(ctx); err != nil {
		s.logger.WithError(err).Error("Initial ingestion failed")
	}

	sched.Start(ctx)
	if next, ok := sched.NextRun("ingest"); ok {
		s.logger.WithField("next_run", next).Info("Ingestion scheduled")
	}

	<-ctx.Done()
	<-sched.Stop().Done()
	return ctx.Err()
}

// RunBatch ingests every tracked account once, one account after the other.
// A failing account is logged and counted; it never stops the remaining accounts.
func (s *Service) RunBatch(ctx context.Context) error {
	status := models.IngestionStatus{
		RunID:       uuid.NewString(),
		LastAttempt: s.now().UTC(),
		Status:      models.StatusRunning,
	}
	if prev, err := s.storage.GetIngestionStatus(ctx); err == nil && prev != nil {
		status.LastSuccessfulRun = prev.LastSuccessfulRun
	}
	s.updateStatus(ctx, status)

	log := s.logger.WithField("run_id", status.RunID)

	accounts, err := s.storage.GetHandles(ctx)
	if err != nil {
		status.Status = models.StatusFailure
		status.ErrorMessage = err.Error()
		s.updateStatus(ctx, status)
		return fmt.Errorf("failed to load handles: %w", err)
	}
	log.WithField("accounts", len(accounts)).Info("Started ingesting posts")

	var lastErr error
	for _, account := range accounts {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		result, err := s.IngestAccount(ctx, account)
		status.PagesIngested += result.Pages
		status.RecordsIngested += result.Posts
		if err != nil {
			status.AccountsFailed++
			lastErr = err
			log.WithError(err).WithField("username", account.Username).Error("Account ingestion failed")
			continue
		}
		status.AccountsProcessed++
	}

	switch {
	case lastErr == nil:
		status.Status = models.StatusSuccess
		status.LastSuccessfulRun = s.now().UTC()
	case status.AccountsProcessed > 0:
		status.Status = models.StatusPartial
		status.ErrorMessage = lastErr.Error()
	default:
		status.Status = models.StatusFailure
		status.ErrorMessage = lastErr.Error()
	}
	s.updateStatus(context.WithoutCancel(ctx), status)

	log.WithFields(logrus.Fields{
		"status":  status.Status,
		"pages":   status.PagesIngested,
		"records": status.RecordsIngested,
	}).Info("Finished ingesting posts")

	if status.Status == models.StatusFailure {
		return lastErr
	}
	return nil
}

// IngestAccount walks one account's timeline until the cursor runs out.
// A failed page is retried with the same cursor after the error delay.
func (s *Service) IngestAccount(ctx context.Context, account models.Account) (AccountResult, error) {
	var result AccountResult
	log := s.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"username":   account.Username,
	})

	cursor := s.resumeCursor(ctx, account, log)
	log.WithField("cursor", cursor).Info("Ingesting posts")

	failures := 0
	for {
		next, stored, err := s.processPage(ctx, account, cursor, log)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}

			failures++
			log.WithError(err).WithFields(logrus.Fields{
				"cursor":  cursor,
				"attempt": failures,
			}).Error("Page ingestion failed, retrying same page")

			if s.config.MaxPageAttempts > 0 && failures >= s.config.MaxPageAttempts {
				return result, fmt.Errorf("giving up on @%s after %d failed attempts at cursor %q: %w",
					account.Username, failures, cursor, err)
			}
			if err := s.sleep(ctx, s.config.ErrorDelay); err != nil {
				return result, err
			}
			continue
		}

		failures = 0
		result.Pages++
		result.Posts += stored
		log.WithFields(logrus.Fields{
			"page":  result.Pages,
			"posts": result.Posts,
		}).Info("Ingested page")

		if next == "" {
			s.saveCheckpoint(ctx, account, "", log)
			log.WithField("pages", result.Pages).Info("Reached end of timeline")
			return result, nil
		}

		cursor = next
		s.saveCheckpoint(ctx, account, cursor, log)

		if err := s.sleep(ctx, s.config.PageDelay); err != nil {
			return result, err
		}
	}
}

// processPage fetches, annotates and persists the page at cursor and returns the next cursor
func (s *Service) processPage(ctx context.Context, account models.Account, cursor string, log *logrus.Entry) (string, int, error) {
	start := time.Now()

	page, err := s.fetcher.FetchPage(ctx, account.ID, cursor)
	if err != nil {
		s.metrics.PageFailures.WithLabelValues("fetch").Inc()
		return "", 0, fmt.Errorf("failed to fetch page: %w", err)
	}
	s.metrics.PagesFetched.WithLabelValues(account.Username).Inc()

	fetchedAt := s.now().UTC()
	posts := make([]models.EnrichedPost, 0, len(page.Posts))
	unannotated := 0
	for _, raw := range page.Posts {
		post := models.EnrichedPost{
			Post:        raw,
			Username:    account.Username,
			LastUpdated: fetchedAt,
			UpdateType:  models.UpdateTypeBatch,
			Entities:    []string{},
		}

		if err := s.annotator.Annotate(ctx, &post); err != nil {
			if ctx.Err() != nil {
				return "", 0, ctx.Err()
			}
			keep, err := s.onAnnotationFailure(post, err, log)
			if err != nil {
				s.metrics.PageFailures.WithLabelValues("annotate").Inc()
				return "", 0, err
			}
			if !keep {
				continue
			}
		}
		if !post.Annotated() {
			unannotated++
		}
		posts = append(posts, post)
	}

	if err := s.storage.StorePosts(ctx, posts); err != nil {
		s.metrics.PageFailures.WithLabelValues("persist").Inc()
		return "", 0, fmt.Errorf("failed to store posts: %w", err)
	}

	s.metrics.PostsPersisted.WithLabelValues(account.Username).Add(float64(len(posts)))
	s.metrics.PageDuration.Observe(time.Since(start).Seconds())
	log.WithFields(logrus.Fields{
		"cursor":       cursor,
		"result_count": page.ResultCount,
		"stored":       len(posts),
		"unannotated":  unannotated,
	}).Debug("Processed page")

	return page.NextCursor, len(posts), nil
}

// onAnnotationFailure applies the configured policy to a post whose annotation failed.
// It reports whether the post is persisted, or an error that fails the whole page.
func (s *Service) onAnnotationFailure(post models.EnrichedPost, err error, log *logrus.Entry) (bool, error) {
	var annErr *annotation.AnnotationError
	if !errors.As(err, &annErr) {
		return false, fmt.Errorf("failed to annotate post %s: %w", post.ID, err)
	}

	s.metrics.AnnotationExhaustions.Inc()
	entry := log.WithError(err).WithFields(logrus.Fields{
		"post_id":  post.ID,
		"attempts": annErr.Attempts,
		"policy":   s.config.FailurePolicy,
	})

	switch s.config.FailurePolicy {
	case config.FailurePolicySkipPost:
		entry.Warn("Annotation retries exhausted, skipping post")
		return false, nil
	case config.FailurePolicyStoreUnannotated:
		entry.Warn("Annotation retries exhausted, storing post without annotation")
		return true, nil
	default:
		// A post that can never be annotated keeps this page failing; MAX_PAGE_ATTEMPTS bounds it.
		entry.Warn("Annotation retries exhausted, page will be retried")
		return false, err
	}
}

func (s *Service) resumeCursor(ctx context.Context, account models.Account, log *logrus.Entry) string {
	if !s.config.CheckpointEnabled {
		return ""
	}
	checkpoint, err := s.storage.GetCheckpoint(ctx, account.ID)
	if err != nil {
		log.WithError(err).Warn("Failed to read checkpoint, starting from first page")
		return ""
	}
	if checkpoint == nil {
		return ""
	}
	return checkpoint.Cursor
}

func (s *Service) saveCheckpoint(ctx context.Context, account models.Account, cursor string, log *logrus.Entry) {
	if !s.config.CheckpointEnabled {
		return
	}
	err := s.storage.SaveCheckpoint(ctx, models.Checkpoint{
		AccountID: account.ID,
		Cursor:    cursor,
		UpdatedAt: s.now().UTC(),
	})
	if err != nil {
		log.WithError(err).Warn("Failed to save checkpoint")
	}
}

func (s *Service) updateStatus(ctx context.Context, status models.IngestionStatus) {
	if err := s.storage.UpdateIngestionStatus(ctx, status); err != nil {
		s.logger.WithError(err).Warn("Failed to update ingestion status")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
