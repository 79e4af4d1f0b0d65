package models

import "time"

// UpdateTypeBatch marks posts written by the batch ingestion job
const UpdateTypeBatch = "batch"

// Account is a tracked social-media handle
type Account struct {
	ID       string `json:"id" bson:"id"`
	Username string `json:"username" bson:"username"`
}

// PublicMetrics holds the engagement counters returned with a post
type PublicMetrics struct {
	RetweetCount int `json:"retweet_count" bson:"retweet_count"`
	ReplyCount   int `json:"reply_count" bson:"reply_count"`
	LikeCount    int `json:"like_count" bson:"like_count"`
	QuoteCount   int `json:"quote_count" bson:"quote_count"`
}

// Geo is the optional location attached to a post
type Geo struct {
	PlaceID string `json:"place_id,omitempty" bson:"place_id,omitempty"`
}

// Post represents the raw post structure from the API.
// Fields holds the complete upstream object, including keys the typed view does not cover.
type Post struct {
	ID              string         `json:"id" bson:"id"`
	Text            string         `json:"text" bson:"text"`
	AuthorID        string         `json:"author_id,omitempty" bson:"author_id,omitempty"`
	ConversationID  string         `json:"conversation_id,omitempty" bson:"conversation_id,omitempty"`
	CreatedAt       string         `json:"created_at,omitempty" bson:"created_at,omitempty"`
	Geo             *Geo           `json:"geo,omitempty" bson:"geo,omitempty"`
	InReplyToUserID string         `json:"in_reply_to_user_id,omitempty" bson:"in_reply_to_user_id,omitempty"`
	Lang            string         `json:"lang,omitempty" bson:"lang,omitempty"`
	PublicMetrics   *PublicMetrics `json:"public_metrics,omitempty" bson:"public_metrics,omitempty"`
	Source          string         `json:"source,omitempty" bson:"source,omitempty"`

	Fields map[string]interface{} `json:"-" bson:"-" dynamodbav:"-"`
}

// Sentiment is the document-level sentiment of a post
type Sentiment struct {
	Score     float64 `json:"score" bson:"score"`
	Magnitude float64 `json:"magnitude" bson:"magnitude"`
}

// EnrichedPost represents the post after annotation and metadata merge
type EnrichedPost struct {
	Post        `json:",inline" bson:",inline"`
	Username    string     `json:"username" bson:"username"`
	LastUpdated time.Time  `json:"last_updated" bson:"last_updated"`
	UpdateType  string     `json:"update_type" bson:"update_type"`
	Sentiment   *Sentiment `json:"sentiment,omitempty" bson:"sentiment,omitempty"`
	Entities    []string   `json:"entities" bson:"entities"`
}

// Annotated reports whether sentiment has been merged into the post
func (p *EnrichedPost) Annotated() bool {
	return p.Sentiment != nil
}

// Ingestion run states
const (
	StatusNeverRun = "never_run"
	StatusRunning  = "running"
	StatusSuccess  = "success"
	StatusPartial  = "partial"
	StatusFailure  = "failure"
)

// IngestionStatus tracks the status of ingestion runs
type IngestionStatus struct {
	RunID             string    `json:"run_id" bson:"run_id"`
	LastSuccessfulRun time.Time `json:"last_successful_run" bson:"last_successful_run"`
	LastAttempt       time.Time `json:"last_attempt" bson:"last_attempt"`
	Status            string    `json:"status" bson:"status"`
	ErrorMessage      string    `json:"error_message,omitempty" bson:"error_message,omitempty"`
	AccountsProcessed int       `json:"accounts_processed" bson:"accounts_processed"`
	AccountsFailed    int       `json:"accounts_failed" bson:"accounts_failed"`
	PagesIngested     int       `json:"pages_ingested" bson:"pages_ingested"`
	RecordsIngested   int       `json:"records_ingested" bson:"records_ingested"`
}

// Checkpoint is the last pagination cursor reached for an account.
// An empty Cursor means the account starts from its first page.
type Checkpoint struct {
	AccountID string    `json:"account_id" bson:"account_id"`
	Cursor    string    `json:"cursor" bson:"cursor"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}
