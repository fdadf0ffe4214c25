// Package crawler polls every discovered mesh address concurrently, bounded
// by a concurrency limit, and normalizes responses into observations.
//
// Per-node failures are absorbed and surfaced as data; no single node can
// fail or stall a run. A stalled node holds exactly one pool slot until its
// own timeout fires.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meshtools/meshwatch/internal/aredn"
	"github.com/meshtools/meshwatch/internal/model"
)

const (
	defaultConcurrency = 50
	defaultTimeout     = 30 * time.Second

	// maximum of raw response bytes kept on an error record
	maxErrorDetail = 4096
)

// NameLookup resolves an address to a node name for error labeling.
type NameLookup interface {
	ReverseLookup(ctx context.Context, ipAddress string) string
}

// Crawler fetches and parses node status documents.
type Crawler struct {
	httpClient  *http.Client
	names       NameLookup
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger

	// fetchNode indirection so the pool can be exercised without a network
	fetch func(ctx context.Context, address string) (*model.NodeObservation, *model.NodeError)
}

// New creates a Crawler. A nil names lookup disables reverse-DNS labeling.
func New(concurrency int, timeout time.Duration, names NameLookup, logger *slog.Logger) *Crawler {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Crawler{
		// the per-request context enforces the total per-node timeout;
		// the client itself stays unbounded
		httpClient:  &http.Client{},
		names:       names,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      logger,
	}
	c.fetch = c.fetchNode
	return c
}

// Crawl polls all addresses and returns the observations and per-node errors.
// Completion order is unspecified; results are order-independent.
func (c *Crawler) Crawl(ctx context.Context, addresses []string) ([]*model.NodeObservation, []model.NodeError) {
	var (
		mu           sync.Mutex
		observations []*model.NodeObservation
		nodeErrors   []model.NodeError
	)

	group := new(errgroup.Group)
	group.SetLimit(c.concurrency)

	started := time.Now()
	for _, address := range addresses {
		address := address
		group.Go(func() error {
			obs, nodeErr := c.fetch(ctx, address)
			mu.Lock()
			defer mu.Unlock()
			if nodeErr != nil {
				nodeErrors = append(nodeErrors, *nodeErr)
			} else if obs != nil {
				observations = append(observations, obs)
			}
			return nil
		})
	}
	_ = group.Wait()

	c.logger.Info("polling finished",
		"nodes", len(observations),
		"errors", len(nodeErrors),
		"elapsed", time.Since(started).Round(time.Millisecond))
	return observations, nodeErrors
}

// fetchNode performs one status request with a single total timeout covering
// connect and read, then normalizes the payload.
func (c *Crawler) fetchNode(ctx context.Context, address string) (*model.NodeObservation, *model.NodeError) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, nodeURL(address), nil)
	if err != nil {
		return nil, c.errorFor(ctx, address, model.ErrorTransport, err.Error())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, c.errorFor(ctx, address, model.ErrorTimeout, err.Error())
		}
		return nil, c.errorFor(ctx, address, model.ErrorTransport, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, c.errorFor(ctx, address, model.ErrorTimeout, err.Error())
		}
		return nil, c.errorFor(ctx, address, model.ErrorTransport, err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		detail := fmt.Sprintf("%d: %s", resp.StatusCode, truncate(string(body)))
		return nil, c.errorFor(ctx, address, model.ErrorHTTP, detail)
	}

	obs, err := aredn.ParseSystemInfo(body, address, time.Now().UTC())
	if err != nil {
		c.logger.Warn("parsing node response failed", "node", address, "err", err)
		return nil, c.errorFor(ctx, address, model.ErrorParse, truncate(string(body)))
	}
	return obs, nil
}

func (c *Crawler) errorFor(ctx context.Context, address string, category model.ErrorCategory, details string) *model.NodeError {
	name := ""
	if c.names != nil {
		name = c.names.ReverseLookup(ctx, address)
	}
	c.logger.Warn("node poll failed", "node", address, "name", name, "category", string(category))
	return &model.NodeError{
		IPAddress: address,
		DNSName:   name,
		Category:  category,
		Details:   details,
	}
}

// nodeURL builds the status endpoint for an address. Addresses that already
// carry a port (tests, non-standard nodes) are used as-is.
func nodeURL(address string) string {
	host := address
	if !strings.Contains(address, ":") {
		host = address + ":8080"
	}
	return fmt.Sprintf("http://%s/cgi-bin/sysinfo.json?services_local=1&link_info=1", host)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string) string {
	if len(s) > maxErrorDetail {
		return s[:maxErrorDetail]
	}
	return s
}
