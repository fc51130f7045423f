package memory

import (
	"encoding/json"
	"time"
)

// DefaultUserID is used when a request does not carry a user ID.
const DefaultUserID = "default_user"

// Turn is one (user message, assistant response) pair, the unit of
// short-term storage. Turns are append-only; the list is only rewritten
// wholesale by compression.
type Turn struct {
	Message   string            `json:"message"`
	Response  string            `json:"response"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Identity holds the known-identity fields of a user profile.
// Missing fields are omitted, never stored as null.
type Identity struct {
	Name      string `json:"name,omitempty"`
	Age       string `json:"age,omitempty"`
	Location  string `json:"location,omitempty"`
	Job       string `json:"job,omitempty"`
	Education string `json:"education,omitempty"`
}

// UnmarshalJSON accepts age as either a JSON string or a number, since
// extraction output is not strictly typed.
func (id *Identity) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name      string          `json:"name"`
		Age       json.RawMessage `json:"age"`
		Location  string          `json:"location"`
		Job       string          `json:"job"`
		Education string          `json:"education"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id.Name = raw.Name
	id.Location = raw.Location
	id.Job = raw.Job
	id.Education = raw.Education
	if len(raw.Age) > 0 {
		var s string
		if json.Unmarshal(raw.Age, &s) == nil {
			id.Age = s
		} else {
			var n json.Number
			if json.Unmarshal(raw.Age, &n) == nil {
				id.Age = n.String()
			}
		}
	}
	return nil
}

// Profile is the per-user record maintained by the profile service.
// List fields are deduplicated on insert; identity fields are
// last-writer-wins. Extras carries unknown keys from future
// extractions so the schema can grow without migration.
type Profile struct {
	Identity           Identity          `json:"identity,omitempty"`
	Preferences        []string          `json:"preferences,omitempty"`
	Interests          []string          `json:"interests,omitempty"`
	CommunicationStyle string            `json:"communication_style,omitempty"`
	Confidence         float64           `json:"confidence,omitempty"`
	LastUpdated        string            `json:"last_updated,omitempty"`
	Extras             map[string]string `json:"extras,omitempty"`
}

// Empty reports whether the profile carries no extracted information.
func (p *Profile) Empty() bool {
	return p.Identity == (Identity{}) &&
		len(p.Preferences) == 0 &&
		len(p.Interests) == 0 &&
		p.CommunicationStyle == ""
}

// ContextSource describes where a short-term context read was served from.
const (
	SourceRedis           = "redis"
	SourceDatabaseToRedis = "database→redis"
	SourceRedisCompressed = "redis_compressed"
	SourceEmpty           = "empty"
)

// ContextResult is the outcome of a short-term context read.
type ContextResult struct {
	ContextText string

	// Source is one of the ContextSource values.
	Source string

	// RecentTurns is the number of turns rendered.
	RecentTurns int

	// Compressed reports whether any layer summary contributed.
	Compressed bool

	// Turns are the raw turns, newest last, for intent classification.
	Turns []Turn
}

// StoreResult is the outcome of a long-term storage decision.
type StoreResult struct {
	Stored          bool
	MemoryID        string
	ImportanceScore float64
	Reason          string
}

// MemoryEntry is one long-term recall hit.
type MemoryEntry struct {
	ID              string
	Content         string
	ImportanceScore float64
	Intent          string
	Sources         []string
	CreatedAt       time.Time
	Similarity      float64
	AccessCount     int
	CompositeScore  float64
}
