package core

import (
	"context"
	"sync"

	"github.com/learnfeed/learnfeed-go/pkg/intelligence"
)

// AsyncEngine provides asynchronous engine operations.
//
// It wraps the synchronous Engine and executes each call in its own goroutine.
// Every method returns a buffered channel that receives exactly one result and
// is then closed. Wait blocks until every started call has finished.
//
// Example:
//
//	asyncEngine, _ := core.NewAsyncEngine(config)
//	defer asyncEngine.Close()
//
//	resultChan := asyncEngine.GenerateFeedAsync(ctx, "learner_001", core.WithCount(10))
//	result := <-resultChan
//	if result.Error != nil {
//	    log.Fatal(result.Error)
//	}
type AsyncEngine struct {
	*Engine
	wg sync.WaitGroup
}

// NewAsyncEngine creates a new asynchronous engine.
func NewAsyncEngine(cfg *Config, opts ...Option) (*AsyncEngine, error) {
	engine, err := NewEngine(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &AsyncEngine{Engine: engine}, nil
}

// FeedResult contains the result of GenerateFeedAsync.
type FeedResult struct {
	Feed  *Feed
	Error error
}

// InteractionResultAsync contains the result of TrackInteractionAsync.
type InteractionResultAsync struct {
	Result *InteractionResult
	Error  error
}

// DashboardResult contains the result of GetDashboardAsync.
type DashboardResult struct {
	Dashboard *Dashboard
	Error     error
}

// DueReviewsResult contains the result of GetDueReviewsAsync.
type DueReviewsResult struct {
	Reviews []intelligence.DueReview
	Error   error
}

// GenerateFeedAsync generates a feed asynchronously.
func (ae *AsyncEngine) GenerateFeedAsync(ctx context.Context, learnerID string, opts ...FeedOption) <-chan *FeedResult {
	resultChan := make(chan *FeedResult, 1)
	ae.wg.Add(1)

	go func() {
		defer ae.wg.Done()
		feed, err := ae.GenerateFeed(ctx, learnerID, opts...)
		resultChan <- &FeedResult{
			Feed:  feed,
			Error: err,
		}
		close(resultChan)
	}()

	return resultChan
}

// TrackInteractionAsync tracks an interaction asynchronously. Calls for the
// same learner are still applied one at a time, in lock acquisition order.
func (ae *AsyncEngine) TrackInteractionAsync(ctx context.Context, learnerID string, event InteractionEvent) <-chan *InteractionResultAsync {
	resultChan := make(chan *InteractionResultAsync, 1)
	ae.wg.Add(1)

	go func() {
		defer ae.wg.Done()
		result, err := ae.TrackInteraction(ctx, learnerID, event)
		resultChan <- &InteractionResultAsync{
			Result: result,
			Error:  err,
		}
		close(resultChan)
	}()

	return resultChan
}

// GetDashboardAsync builds a dashboard asynchronously.
func (ae *AsyncEngine) GetDashboardAsync(ctx context.Context, learnerID string) <-chan *DashboardResult {
	resultChan := make(chan *DashboardResult, 1)
	ae.wg.Add(1)

	go func() {
		defer ae.wg.Done()
		dashboard, err := ae.GetDashboard(ctx, learnerID)
		resultChan <- &DashboardResult{
			Dashboard: dashboard,
			Error:     err,
		}
		close(resultChan)
	}()

	return resultChan
}

// GetDueReviewsAsync lists due reviews asynchronously.
func (ae *AsyncEngine) GetDueReviewsAsync(ctx context.Context, learnerID string, count int) <-chan *DueReviewsResult {
	resultChan := make(chan *DueReviewsResult, 1)
	ae.wg.Add(1)

	go func() {
		defer ae.wg.Done()
		reviews, err := ae.GetDueReviews(ctx, learnerID, count)
		resultChan <- &DueReviewsResult{
			Reviews: reviews,
			Error:   err,
		}
		close(resultChan)
	}()

	return resultChan
}

// Wait blocks until all asynchronous calls have completed.
func (ae *AsyncEngine) Wait() {
	ae.wg.Wait()
}

// Close waits for pending calls and closes the engine.
func (ae *AsyncEngine) Close() error {
	ae.Wait()
	return ae.Engine.Close()
}
