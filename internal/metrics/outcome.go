package metrics

import (
	"context"

	"spdropbot/internal/domain"
)

// OutcomeRecorder counts processing outcomes. It implements domain.OutcomeSink.
type OutcomeRecorder struct{}

func (OutcomeRecorder) Record(_ context.Context, o domain.Outcome) {
	switch o.Status {
	case domain.OutcomeReplied:
		Replied.Inc()
	case domain.OutcomeFailed:
		Failed.Inc()
	default:
		Ignored.Inc()
	}
	FragmentsSent.Add(int64(o.Fragments - o.FailedSends))
	FragmentsFailed.Add(int64(o.FailedSends))
}
