package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harrow-realty/listings-cli/internal/model"
	"github.com/harrow-realty/listings-cli/internal/pipeline"
	"github.com/harrow-realty/listings-cli/internal/ranking"
	"github.com/harrow-realty/listings-cli/internal/review"
	"github.com/harrow-realty/listings-cli/internal/scoring"
	"github.com/harrow-realty/listings-cli/internal/store"
	"github.com/harrow-realty/listings-cli/pkg/delivery"
	"github.com/harrow-realty/listings-cli/pkg/extractor"
	"github.com/harrow-realty/listings-cli/pkg/zillow"
)

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initExtractorClient builds the Claude client used for requirement
// extraction and, optionally, semantic preference matching.
func initExtractorClient() extractor.Client {
	return extractor.NewClient(cfg.Anthropic.Key,
		extractor.WithModel(cfg.Anthropic.Model),
		extractor.WithTemperature(cfg.Anthropic.Temperature),
		extractor.WithMaxTokens(cfg.Anthropic.MaxTokens),
	)
}

// initMatcher builds the criterion matcher per config: keyword synonyms,
// optionally upgraded to LLM-graded matching with keyword fallback.
func initMatcher(extClient extractor.Client) (scoring.Matcher, error) {
	var base *scoring.KeywordMatcher
	if cfg.Scoring.SynonymsPath != "" {
		m, err := scoring.NewKeywordMatcherFromFile(cfg.Scoring.SynonymsPath)
		if err != nil {
			return nil, eris.Wrap(err, "load synonyms")
		}
		base = m
	} else {
		base = scoring.NewKeywordMatcher()
	}

	if cfg.Scoring.SemanticMatcher && cfg.Anthropic.Key != "" {
		return scoring.NewSemanticMatcher(extClient, base), nil
	}
	return base, nil
}

// initMachine wires the stage machine: store, extraction, search, ranking.
// Without a Zillow API key the search stage serves offline fixtures.
func initMachine(st store.Store) (*pipeline.Machine, error) {
	extClient := initExtractorClient()

	matcher, err := initMatcher(extClient)
	if err != nil {
		return nil, err
	}
	scorer := scoring.New(model.Weights{
		MustHave:   cfg.Scoring.MustHaveWeight,
		NiceToHave: cfg.Scoring.NiceToHaveWeight,
	}, matcher)
	ranker := ranking.New(scorer, cfg.Pipeline.RankConcurrency)

	var searcher pipeline.Searcher
	if cfg.Zillow.Key == "" {
		zap.L().Warn("no zillow API key configured, search runs in offline fixture mode")
		searcher = pipeline.NewOfflineSearcher()
	} else {
		client := zillow.NewClient(cfg.Zillow.Key,
			zillow.WithHost(cfg.Zillow.Host),
			zillow.WithRateLimit(cfg.Zillow.RequestsPerSecond),
		)
		searcher = pipeline.NewZillowSearcher(client, cfg.Zillow.MaxPerLocation)
	}

	timeout := time.Duration(cfg.Pipeline.StageTimeoutSecs) * time.Second
	return pipeline.New(st, pipeline.NewLLMExtractor(extClient), searcher, ranker, timeout), nil
}

// initGate wires the review gate with the email deliverer. Without a
// delivery API key sends are simulated and logged.
func initGate(st store.Store) *review.Gate {
	opts := []delivery.Option{}
	if cfg.Delivery.BaseURL != "" {
		opts = append(opts, delivery.WithBaseURL(cfg.Delivery.BaseURL))
	}
	client := delivery.NewClient(cfg.Delivery.Key, opts...)
	return review.New(st, review.NewEmailDeliverer(client, cfg.Delivery.From))
}

// openStore opens and migrates the store; shared prologue of most commands.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}
