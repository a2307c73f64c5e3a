package pipeline

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/DTeam-Top/docpilot/internal/cache"
	"github.com/DTeam-Top/docpilot/internal/llm"
)

// ArtifactCache is the cache capability the service consumes.
type ArtifactCache interface {
	Get(kind, sourceID string) (string, cache.Metadata, bool, error)
	Set(kind, sourceID, artifact string, meta cache.Metadata) error
}

// SourceWatcher registers local sources for change-driven invalidation.
type SourceWatcher interface {
	Watch(sourceID string) error
}

// Request identifies one analysis run. Text is the already-extracted document
// body; SourceID is an absolute local path or a full URL.
type Request struct {
	SourceID    string
	DisplayName string
	Text        string
	Kind        Kind
}

// Response is an Outcome plus whether it was served from cache.
type Response struct {
	Outcome
	Cached bool
}

// Service runs the pipeline behind a cache and per-source single-flight:
// concurrent identical requests share one run instead of doubling model cost.
type Service struct {
	proc    *Processor
	client  llm.Client
	cache   ArtifactCache
	watcher SourceWatcher
	log     *slog.Logger
	flight  singleflight.Group
}

func NewService(proc *Processor, client llm.Client, c ArtifactCache, w SourceWatcher, log *slog.Logger) *Service {
	return &Service{proc: proc, client: client, cache: c, watcher: w, log: log}
}

// Analyze serves the artifact for (kind, source), from cache when present,
// otherwise by running the pipeline. Successful and degraded results are
// cached and, for local sources, registered with the watcher. Cancelled runs
// and excerpt-tier results are never cached.
func (s *Service) Analyze(ctx context.Context, req Request, sink Sink) (Response, error) {
	strat, err := StrategyFor(req.Kind)
	if err != nil {
		return Response{}, err
	}

	if artifact, meta, ok, err := s.cache.Get(string(req.Kind), req.SourceID); err != nil {
		s.log.Warn("cache read failed, reprocessing", "source", req.SourceID, "error", err)
	} else if ok {
		s.log.Info("cache hit", "source", req.SourceID, "kind", req.Kind)
		return Response{
			Outcome: Outcome{
				Kind:         OutcomeSuccess,
				Text:         artifact,
				StrategyUsed: meta.ProcessingStrategy,
				TextLength:   meta.TextLength,
			},
			Cached: true,
		}, nil
	}

	// Joiners observe the leader's run; a cancelled leader cancels the
	// shared result for everyone who joined it.
	key := string(req.Kind) + "|" + req.SourceID
	v, err, shared := s.flight.Do(key, func() (any, error) {
		out, err := s.proc.Process(ctx, req.Text, req.DisplayName, s.client, sink, strat)
		if err != nil {
			return nil, err
		}
		if out.Kind == OutcomeSuccess || out.Kind == OutcomeDegraded {
			s.store(req, out)
		}
		return out, nil
	})
	if err != nil {
		return Response{}, err
	}
	if shared {
		s.log.Info("request joined in-flight run", "source", req.SourceID, "kind", req.Kind)
	}
	return Response{Outcome: v.(Outcome)}, nil
}

func (s *Service) store(req Request, out Outcome) {
	meta := cache.Metadata{ProcessingStrategy: out.StrategyUsed, TextLength: out.TextLength}
	if err := s.cache.Set(string(req.Kind), req.SourceID, out.Text, meta); err != nil {
		s.log.Warn("cache write failed", "source", req.SourceID, "error", err)
		return
	}
	if s.watcher == nil {
		return
	}
	if err := s.watcher.Watch(req.SourceID); err != nil {
		s.log.Warn("watch registration failed", "source", req.SourceID, "error", err)
	}
}
