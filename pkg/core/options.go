package core

import (
	"github.com/rs/zerolog"

	"github.com/learnfeed/learnfeed-go/pkg/catalog"
	"github.com/learnfeed/learnfeed-go/pkg/clock"
	"github.com/learnfeed/learnfeed-go/pkg/intelligence"
	"github.com/learnfeed/learnfeed-go/pkg/storage"
)

// Option is a function type for configuring an Engine.
//
// Options are applied using the functional options pattern and take
// precedence over the values derived from Config.
type Option func(*engineOptions)

type engineOptions struct {
	clock   clock.Clock
	rng     intelligence.Rand
	logger  *zerolog.Logger
	store   storage.StateStore
	catalog catalog.Catalog
}

// WithClock sets the time source. Tests use clock.Fake.
//
// Example:
//
//	fake := clock.NewFake(time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC))
//	engine, _ := core.NewEngine(cfg, core.WithClock(fake))
func WithClock(c clock.Clock) Option {
	return func(opts *engineOptions) {
		opts.clock = c
	}
}

// WithRand sets the source of randomness. The engine serializes access to it.
//
// Example:
//
//	engine, _ := core.NewEngine(cfg, core.WithRand(rand.New(rand.NewSource(7))))
func WithRand(r intelligence.Rand) Option {
	return func(opts *engineOptions) {
		opts.rng = r
	}
}

// WithLogger sets the engine logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(opts *engineOptions) {
		opts.logger = &logger
	}
}

// WithStore supplies a ready state store instead of building one from
// Config.Store. The engine closes it on Close.
func WithStore(store storage.StateStore) Option {
	return func(opts *engineOptions) {
		opts.store = store
	}
}

// WithCatalog supplies the content catalog instead of loading Config.Catalog.Path.
func WithCatalog(c catalog.Catalog) Option {
	return func(opts *engineOptions) {
		opts.catalog = c
	}
}

// FeedOption is a function type for configuring GenerateFeed.
type FeedOption func(*FeedOptions)

// FeedOptions contains configuration options for GenerateFeed.
type FeedOptions struct {
	// Count is the number of items to return.
	// Default: Config.Engine.FeedCount
	Count int

	// Filter narrows the candidates pulled from the catalog.
	Filter catalog.Filter
}

// WithCount sets the number of feed items.
//
// Example:
//
//	feed, _ := engine.GenerateFeed(ctx, "learner_001", core.WithCount(10))
func WithCount(count int) FeedOption {
	return func(opts *FeedOptions) {
		opts.Count = count
	}
}

// WithCandidateIDs restricts candidates to the given content IDs. IDs missing
// from the catalog are skipped and reported in Feed.Missing.
func WithCandidateIDs(ids ...string) FeedOption {
	return func(opts *FeedOptions) {
		opts.Filter.IDs = append(opts.Filter.IDs, ids...)
	}
}

// WithCategories restricts candidates to the given categories.
func WithCategories(categories ...string) FeedOption {
	return func(opts *FeedOptions) {
		opts.Filter.Categories = append(opts.Filter.Categories, categories...)
	}
}

// WithExcludedIDs removes the given content IDs from the candidates.
func WithExcludedIDs(ids ...string) FeedOption {
	return func(opts *FeedOptions) {
		opts.Filter.ExcludeIDs = append(opts.Filter.ExcludeIDs, ids...)
	}
}

// applyFeedOptions applies feed options on top of the engine defaults.
func applyFeedOptions(defaultCount int, opts []FeedOption) *FeedOptions {
	options := &FeedOptions{
		Count: defaultCount,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
