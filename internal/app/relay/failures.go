package relay

import (
	"context"

	"github.com/ahrav/fetch-relay/internal/domain/transfer"
	"github.com/ahrav/fetch-relay/pkg/common/logger"
)

// LogFailures is the default FailureSink: it records the failure and forgets
// the item.
type LogFailures struct {
	logger *logger.Logger
}

var _ transfer.FailureSink = (*LogFailures)(nil)

// NewLogFailures creates a LogFailures writing to logger.
func NewLogFailures(logger *logger.Logger) *LogFailures {
	return &LogFailures{logger: logger.With("component", "failure_sink")}
}

// HandleFailure logs outcome at warn level.
func (f *LogFailures) HandleFailure(ctx context.Context, outcome transfer.Outcome) {
	args := []any{
		"url", outcome.URL,
		"outcome", outcome.State.String(),
		"duration", outcome.Duration,
	}
	if outcome.StatusCode != 0 {
		args = append(args, "status_code", outcome.StatusCode)
	}
	if outcome.Destination != "" {
		args = append(args, "destination", outcome.Destination)
	}
	if outcome.Err != nil {
		args = append(args, "error", outcome.Err)
	}
	f.logger.Warn(ctx, "Transfer failed", args...)
}

