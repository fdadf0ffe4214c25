// Package collector runs one full poll of the mesh: discover the topology,
// crawl every node, reconcile identities, build links, classify recency and
// persist the results together with an immutable run summary.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meshtools/meshwatch/internal/model"
	"github.com/meshtools/meshwatch/internal/reconcile"
	"github.com/meshtools/meshwatch/internal/topology"
)

// Store is the persistence surface the collector writes each run through.
type Store interface {
	KnownNodes(ctx context.Context) ([]model.Node, error)
	UpsertNodes(ctx context.Context, nodes []model.Node) error
	UpsertLinks(ctx context.Context, links []model.Link) error
	RefreshStatuses(ctx context.Context, runAt, now time.Time, thresholds model.RecencyThresholds) error
	SavePollRun(ctx context.Context, run *model.PollRun) error
	InsertNodeSamples(ctx context.Context, runID int64, nodes []model.Node, observedAt time.Time) error
	InsertLinkSamples(ctx context.Context, runID int64, links []model.Link, observedAt time.Time) error
}

// TopologySource yields the address list for a run.
type TopologySource interface {
	Discover(ctx context.Context) (*topology.Topology, error)
	LocalNode() string
}

// NodeCrawler polls the given addresses and returns what it could normalize.
type NodeCrawler interface {
	Crawl(ctx context.Context, addresses []string) ([]*model.NodeObservation, []model.NodeError)
}

type Service struct {
	topo       TopologySource
	crawler    NodeCrawler
	reconciler *reconcile.Reconciler
	store      Store
	thresholds model.RecencyThresholds
	logger     *slog.Logger
	now        func() time.Time
}

func New(topo TopologySource, crawler NodeCrawler, store Store, thresholds model.RecencyThresholds, logger *slog.Logger) *Service {
	return &Service{
		topo:       topo,
		crawler:    crawler,
		reconciler: reconcile.New(logger),
		store:      store,
		thresholds: thresholds.Normalize(),
		logger:     logger,
		now:        time.Now,
	}
}

// PollOnce executes a single collection run. A run with zero reachable nodes
// is still recorded, and so is a run where no topology source answered: the
// latter aborts before any fetch but leaves a zero-node run row carrying a
// topology error, so outage periods stay visible in the run history.
func (s *Service) PollOnce(ctx context.Context) (*model.PollRun, error) {
	startedAt := s.now().UTC()

	topo, err := s.topo.Discover(ctx)
	if err != nil {
		wrapped := fmt.Errorf("discovering topology: %w", err)
		if errors.Is(err, topology.ErrUnavailable) {
			return s.recordOutage(ctx, startedAt, err), wrapped
		}
		return nil, wrapped
	}

	observations, nodeErrors := s.crawler.Crawl(ctx, topo.Addresses)
	pollingDone := s.now().UTC()

	known, err := s.store.KnownNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading known nodes: %w", err)
	}
	result := s.reconciler.Run(observations, known, startedAt)
	links := buildLinks(result.Nodes, observations, topo, startedAt)

	if err := s.store.UpsertNodes(ctx, result.Nodes); err != nil {
		return nil, fmt.Errorf("saving nodes: %w", err)
	}
	if err := s.store.UpsertLinks(ctx, links); err != nil {
		return nil, fmt.Errorf("saving links: %w", err)
	}
	now := s.now().UTC()
	if err := s.store.RefreshStatuses(ctx, startedAt, now, s.thresholds); err != nil {
		return nil, fmt.Errorf("refreshing statuses: %w", err)
	}

	run := &model.PollRun{
		StartedAt:       startedAt,
		PollingDuration: pollingDone.Sub(startedAt),
		TotalDuration:   s.now().UTC().Sub(startedAt),
		NodeCount:       len(result.Nodes),
		LinkCount:       len(links),
		PartialTopology: topo.Partial,
		Errors:          nodeErrors,
		Conflicts:       result.Conflicts,
		Stats: map[string]int{
			"topology_addresses": len(topo.Addresses),
			"nodes_created":      result.Created,
			"nodes_updated":      result.Updated,
		},
	}
	run.CountErrors()

	if err := s.store.SavePollRun(ctx, run); err != nil {
		return nil, fmt.Errorf("saving run: %w", err)
	}
	if err := s.store.InsertNodeSamples(ctx, run.ID, result.Nodes, startedAt); err != nil {
		return nil, fmt.Errorf("saving node samples: %w", err)
	}
	if err := s.store.InsertLinkSamples(ctx, run.ID, links, startedAt); err != nil {
		return nil, fmt.Errorf("saving link samples: %w", err)
	}

	s.logger.Info("poll run complete",
		"run_id", run.ID,
		"nodes", run.NodeCount,
		"links", run.LinkCount,
		"errors", run.ErrorCount,
		"partial", run.PartialTopology,
		"duration", run.TotalDuration.Round(time.Millisecond))
	return run, nil
}

// recordOutage persists a zero-node run for a failed topology discovery.
func (s *Service) recordOutage(ctx context.Context, startedAt time.Time, cause error) *model.PollRun {
	run := &model.PollRun{
		StartedAt:     startedAt,
		TotalDuration: s.now().UTC().Sub(startedAt),
		Errors: []model.NodeError{{
			IPAddress: s.topo.LocalNode(),
			Category:  model.ErrorTopology,
			Details:   cause.Error(),
		}},
	}
	run.CountErrors()
	if err := s.store.SavePollRun(ctx, run); err != nil {
		s.logger.Error("failed to record topology outage run", "err", err)
		return nil
	}
	s.logger.Warn("recorded zero-node run; topology unavailable",
		"run_id", run.ID, "details", cause.Error())
	return run
}
