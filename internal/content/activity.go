package content

import "time"

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Activity categories written by the pipeline.
const (
	CategoryScheduler  = "scheduler"
	CategoryGeneration = "generation"
	CategoryPublish    = "publish"
	CategorySync       = "sync"
	CategoryRetention  = "retention"
	CategoryDownload   = "download"
)

// ActorSystem is the actor for records written by the pipeline itself.
const ActorSystem = "system"

// ActivityRecord is an immutable audit entry.
type ActivityRecord struct {
	ID        string
	Actor     string
	Category  string
	Action    string
	Outcome   Outcome
	Message   string
	Metadata  map[string]any
	CreatedAt time.Time
}
