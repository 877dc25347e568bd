package models

import "time"

// VideoMetadata is the normalized view of a provider video. It is computed per
// request and only ever stored embedded in an AnalysisRecord.
type VideoMetadata struct {
	ID          string `json:"-" bson:"-"`
	Title       string `json:"title" bson:"title"`
	Description string `json:"-" bson:"-"`
	Thumbnail   string `json:"thumbnail" bson:"thumbnail"`
	Duration    string `json:"duration" bson:"duration"`
	Views       string `json:"views" bson:"views"`
	PublishedAt string `json:"publishedAt" bson:"publishedAt"`
	ChannelName string `json:"channelName" bson:"channelName"`
}

type Flashcard struct {
	Question string `json:"question" bson:"question"`
	Answer   string `json:"answer" bson:"answer"`
}

type GeneratedContent struct {
	Summary    []string    `json:"summary"`
	Flashcards []Flashcard `json:"flashcards"`
	TLDR       []string    `json:"tldr"`
	// Degraded is set when the model output could not be parsed and the
	// fallback content was substituted.
	Degraded bool `json:"-"`
}

type AnalysisRecord struct {
	ID         string        `json:"id" bson:"_id"`
	OwnerID    int64         `json:"userid" bson:"userid"`
	VideoURL   string        `json:"videoUrl" bson:"videoUrl"`
	Video      VideoMetadata `json:"videoData" bson:"videoData"`
	Summary    []string      `json:"summary" bson:"summary"`
	Flashcards []Flashcard   `json:"flashcards" bson:"flashcards"`
	TLDR       []string      `json:"tldr" bson:"tldr"`
	Language   string        `json:"lang" bson:"lang"`
	Notes      string        `json:"notes" bson:"notes"`
	CreatedAt  time.Time     `json:"createdAt" bson:"createdAt"`
}

// PersistenceStatus is the terminal outcome of the save step of a generation
// request.
type PersistenceStatus string

const (
	PersistencePending       PersistenceStatus = "pending"
	PersistencePersisted     PersistenceStatus = "persisted"
	PersistenceFailed        PersistenceStatus = "failed"
	PersistenceNotApplicable PersistenceStatus = "not_applicable"
)
