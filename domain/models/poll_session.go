package models

import "time"

// StatusCounts is the index_status distribution of one event.
type StatusCounts struct {
	Pending       int64      `json:"pending"`
	Processing    int64      `json:"processing"`
	Indexed       int64      `json:"indexed"`
	Failed        int64      `json:"failed"`
	LastIndexedAt *time.Time `json:"last_indexed_at,omitempty"`
}

// PipelineTotals is the health view across all events. Stuck counts
// processing rows older than the stuck threshold.
type PipelineTotals struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Failed     int64 `json:"failed"`
	Stuck      int64 `json:"stuck"`
}

func (c StatusCounts) Total() int64 {
	return c.Pending + c.Processing + c.Indexed + c.Failed
}

// Complete is true when nothing is left to index and at least one image made it.
func (c StatusCounts) Complete() bool {
	return c.Pending == 0 && c.Processing == 0 && c.Indexed > 0
}

type PollAdvice string

const (
	AdviceWait       PollAdvice = "wait"
	AdviceRetrigger  PollAdvice = "retrigger"
	AdviceResetStuck PollAdvice = "reset_stuck"
	AdviceAlert      PollAdvice = "alert"
	AdviceDone       PollAdvice = "done"
)

type PollPolicy struct {
	StuckAfter           time.Duration
	MaxConsecutiveErrors int
}

// PollSession is the per-poller state used to spot stuck batches and
// failure storms. Each admin tab and each background loop owns its own.
type PollSession struct {
	LastProcessingCount int64      `json:"last_processing_count"`
	StuckTicks          int        `json:"stuck_ticks"`
	ConsecutiveErrors   int        `json:"consecutive_errors"`
	StuckSince          *time.Time `json:"stuck_since,omitempty"`
	LastPollAt          time.Time  `json:"last_poll_at"`
}

// RecordBatch updates the failure counter after an index-batch call.
func (s *PollSession) RecordBatch(err error) {
	if err != nil {
		s.ConsecutiveErrors++
		return
	}
	s.ConsecutiveErrors = 0
}

func (s *PollSession) Alerting(p PollPolicy) bool {
	return p.MaxConsecutiveErrors > 0 && s.ConsecutiveErrors >= p.MaxConsecutiveErrors
}

// Observe folds one status reading into the session and says what the poller should do next.
func (s *PollSession) Observe(counts StatusCounts, now time.Time, p PollPolicy) PollAdvice {
	defer func() {
		s.LastProcessingCount = counts.Processing
		s.LastPollAt = now
	}()

	if s.Alerting(p) {
		return AdviceAlert
	}

	if counts.Processing == 0 {
		s.StuckTicks = 0
		s.StuckSince = nil
		if counts.Pending == 0 {
			return AdviceDone
		}
		return AdviceRetrigger
	}

	if counts.Processing != s.LastProcessingCount {
		s.StuckTicks = 0
		s.StuckSince = nil
		return AdviceWait
	}

	s.StuckTicks++
	if s.StuckSince == nil {
		since := now
		if !s.LastPollAt.IsZero() {
			since = s.LastPollAt
		}
		s.StuckSince = &since
	}
	if now.Sub(*s.StuckSince) >= p.StuckAfter {
		s.StuckTicks = 0
		s.StuckSince = nil
		return AdviceResetStuck
	}
	return AdviceWait
}
