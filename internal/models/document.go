package models

import (
	"encoding/json"
	"time"
)

// enrichmentKeys are the document keys owned by the enrichment, never by the upstream object
var enrichmentKeys = []string{"_id", "username", "last_updated", "update_type", "sentiment", "entities"}

// UnmarshalJSON decodes the typed view and keeps the whole object in Fields
func (p *Post) UnmarshalJSON(data []byte) error {
	type typedPost Post
	var typed typedPost
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*p = Post(typed)
	p.Fields = fields
	return nil
}

func (p Post) document() map[string]interface{} {
	doc := make(map[string]interface{}, len(p.Fields)+10)
	doc["text"] = p.Text
	for key, value := range map[string]string{
		"author_id":           p.AuthorID,
		"conversation_id":     p.ConversationID,
		"created_at":          p.CreatedAt,
		"in_reply_to_user_id": p.InReplyToUserID,
		"lang":                p.Lang,
		"source":              p.Source,
	} {
		if value != "" {
			doc[key] = value
		}
	}
	if p.Geo != nil {
		doc["geo"] = p.Geo
	}
	if p.PublicMetrics != nil {
		doc["public_metrics"] = p.PublicMetrics
	}

	// upstream values win over the typed view, which may only hold a subset of them
	for key, value := range p.Fields {
		doc[key] = value
	}
	doc["id"] = p.ID
	return doc
}

// Document flattens the post into the stored form: every upstream key plus the enrichment.
// Entities is always a list, sentiment is absent until annotated.
func (p EnrichedPost) Document() map[string]interface{} {
	doc := p.Post.document()
	for _, key := range enrichmentKeys {
		delete(doc, key)
	}

	entities := p.Entities
	if entities == nil {
		entities = []string{}
	}

	doc["username"] = p.Username
	doc["last_updated"] = p.LastUpdated
	doc["update_type"] = p.UpdateType
	doc["entities"] = entities
	if p.Sentiment != nil {
		doc["sentiment"] = p.Sentiment
	}
	return doc
}

// RestoreFields sets Fields from a decoded stored document and normalises
// what the store may have lost, so posts read back the same from every backend
func (p *EnrichedPost) RestoreFields(doc map[string]interface{}) {
	fields := make(map[string]interface{}, len(doc))
	for key, value := range doc {
		fields[key] = value
	}
	for _, key := range enrichmentKeys {
		delete(fields, key)
	}

	p.Fields = fields
	if p.Entities == nil {
		p.Entities = []string{}
	}
}

// MarshalJSON writes the document form
func (p EnrichedPost) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Document())
}

// UnmarshalJSON reads a document written by MarshalJSON
func (p *EnrichedPost) UnmarshalJSON(data []byte) error {
	var post Post
	if err := json.Unmarshal(data, &post); err != nil {
		return err
	}

	var enrichment struct {
		Username    string     `json:"username"`
		LastUpdated time.Time  `json:"last_updated"`
		UpdateType  string     `json:"update_type"`
		Sentiment   *Sentiment `json:"sentiment"`
		Entities    []string   `json:"entities"`
	}
	if err := json.Unmarshal(data, &enrichment); err != nil {
		return err
	}

	*p = EnrichedPost{
		Post:        post,
		Username:    enrichment.Username,
		LastUpdated: enrichment.LastUpdated,
		UpdateType:  enrichment.UpdateType,
		Sentiment:   enrichment.Sentiment,
		Entities:    enrichment.Entities,
	}
	p.RestoreFields(post.Fields)
	return nil
}
