package core

import (
	"context"
	"sort"
	"sync"
)

// BatchEvent is one entry of a TrackBatch call.
type BatchEvent struct {
	LearnerID string           `json:"learner_id"`
	Event     InteractionEvent `json:"event"`
}

// BatchResult contains the result of a batch tracking operation.
type BatchResult struct {
	// Results holds the result of every event by its batch index. Failed
	// events may still carry a partial result.
	Results []*InteractionResult

	// Failed contains the events that failed, along with their errors.
	Failed []BatchError

	// Total is the total number of events in the batch.
	Total int

	// SucceededCount is the number of events tracked without error.
	SucceededCount int

	// FailedCount is the number of failed events.
	FailedCount int
}

// BatchError contains information about a failed batch event.
type BatchError struct {
	// Index is the index of the event in the original batch.
	Index int

	// LearnerID is the learner the event belonged to.
	LearnerID string

	// Error is the error that occurred.
	Error error
}

// TrackBatch tracks many interactions, for example when replaying an offline
// session log.
//
// Events of one learner are applied in batch order. Different learners are
// processed concurrently, at most Config.Engine.BatchConcurrency at a time.
// A failing event does not stop the rest of its learner's events.
//
// Example:
//
//	result, _ := engine.TrackBatch(ctx, []core.BatchEvent{
//	    {LearnerID: "u1", Event: core.InteractionEvent{Action: core.ActionLogin}},
//	    {LearnerID: "u2", Event: core.InteractionEvent{Action: core.ActionView, ContentID: "v1"}},
//	})
//	fmt.Printf("tracked %d/%d events\n", result.SucceededCount, result.Total)
func (e *Engine) TrackBatch(ctx context.Context, events []BatchEvent) (*BatchResult, error) {
	if err := e.checkOpen("TrackBatch"); err != nil {
		return nil, err
	}

	result := &BatchResult{
		Total:   len(events),
		Results: make([]*InteractionResult, len(events)),
		Failed:  make([]BatchError, 0),
	}
	if len(events) == 0 {
		return result, nil
	}

	// Group indices by learner, keeping first-seen learner order.
	var order []string
	byLearner := make(map[string][]int)
	for i, ev := range events {
		if _, ok := byLearner[ev.LearnerID]; !ok {
			order = append(order, ev.LearnerID)
		}
		byLearner[ev.LearnerID] = append(byLearner[ev.LearnerID], i)
	}

	concurrency := e.cfg.Engine.BatchConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	fail := func(index int, learnerID string, err error) {
		mu.Lock()
		result.Failed = append(result.Failed, BatchError{Index: index, LearnerID: learnerID, Error: err})
		result.FailedCount++
		mu.Unlock()
	}

	for _, learnerID := range order {
		wg.Add(1)
		sem <- struct{}{}

		go func(learnerID string, indices []int) {
			defer wg.Done()
			defer func() { <-sem }()

			for _, i := range indices {
				if err := ctx.Err(); err != nil {
					fail(i, learnerID, err)
					continue
				}
				res, err := e.TrackInteraction(ctx, learnerID, events[i].Event)
				mu.Lock()
				result.Results[i] = res
				mu.Unlock()
				if err != nil {
					fail(i, learnerID, err)
					continue
				}
				mu.Lock()
				result.SucceededCount++
				mu.Unlock()
			}
		}(learnerID, byLearner[learnerID])
	}

	wg.Wait()

	sort.Slice(result.Failed, func(i, j int) bool { return result.Failed[i].Index < result.Failed[j].Index })
	return result, nil
}
