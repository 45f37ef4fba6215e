package ports

//go:generate mockgen -destination=mocks/ports.go -package=mocks . TextGenerator,DocumentParser,WebSearcher

import (
	"context"
	"errors"
	"time"

	"github.com/aescanero/tenderflow/pkg/domain"
)

// ErrNotFound is returned by storage lookups for unknown ids.
var ErrNotFound = errors.New("not found")

// TextGenerator produces text from a system and a user prompt.
type TextGenerator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, cfg domain.GenerationConfig) (string, error)
}

// DocumentParser extracts text and outline from a document.
type DocumentParser interface {
	Parse(ctx context.Context, ref domain.FileRef) (*domain.ParsedDocument, error)
}

// WebSearcher queries an internet search service.
type WebSearcher interface {
	Search(ctx context.Context, query string, count int) ([]domain.WebResult, error)
}

// EventHandler processes a single event.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes and delivers lifecycle events by topic.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	// Subscribe delivers events until ctx is done.
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// ResultStorage persists invocation records.
type ResultStorage interface {
	Save(ctx context.Context, record *domain.InvocationRecord) error
	Get(ctx context.Context, id string) (*domain.InvocationRecord, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
}

// MetricsCollector records operational metrics.
type MetricsCollector interface {
	RecordInvocationSubmitted(workflow string)
	RecordInvocationCompleted(workflow, status string, duration time.Duration)
	RecordStageExecuted(stage, kind, status string, duration time.Duration)
	RecordLLMCall(model string, inputTokens, outputTokens int64, duration time.Duration, err error)
	RecordWebSearch(status string, duration time.Duration)
	RecordKnowledgeScan(indexed int, documents int, duration time.Duration)
	RecordWorkerPoolStatus(idle, busy, stopped int)
	SetQueueDepth(queue string, depth int)
	SetActiveInvocations(count int)
}

// ReportSection is one titled block of a rendered report.
type ReportSection struct {
	Title string
	Body  string
}

// ReportRenderer turns sections into a document.
type ReportRenderer interface {
	Render(title string, sections []ReportSection) ([]byte, error)
	ContentType() string
}
