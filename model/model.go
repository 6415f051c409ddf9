package model

import (
	"fmt"
	"time"
)

// RunSummary collects the counts each pipeline stage produced during one invocation.
type RunSummary struct {
	RunID           string        `json:"run_id"`
	OrdersFetched   int           `json:"orders_fetched"`
	RowsAppended    int           `json:"rows_appended"`
	RowsDistributed int           `json:"rows_distributed"`
	MessagesSent    int           `json:"messages_sent"`
	MessagesFailed  int           `json:"messages_failed"`
	Skipped         bool          `json:"skipped"`
	Duration        time.Duration `json:"duration"`
}

func (s RunSummary) String() string {
	if s.Skipped {
		return fmt.Sprintf("run %s skipped: another run holds the lock", s.RunID)
	}
	return fmt.Sprintf("run %s: %d orders fetched, %d rows appended, %d rows distributed, %d messages sent (%d failed) in %s",
		s.RunID, s.OrdersFetched, s.RowsAppended, s.RowsDistributed, s.MessagesSent, s.MessagesFailed, s.Duration.Round(time.Millisecond))
}

// CursorValue is a named cursor position, as reported by the status API and CLI.
type CursorValue struct {
	Key   string `json:"key"`
	Value int64  `json:"value"`
}
