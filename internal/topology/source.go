// Package topology discovers the set of mesh participants to poll.
//
// The authoritative source is the routing daemon's link-state table on the
// designated local node, which covers the whole mesh. When that endpoint is
// unreachable or unparseable the local node's own status document supplies a
// fallback neighbor list covering only directly connected nodes; such runs
// are flagged partial.
package topology

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/meshtools/meshwatch/internal/aredn"
)

// ErrUnavailable means neither the routing table nor the fallback neighbor
// list could be obtained; the run cannot proceed.
var ErrUnavailable = errors.New("topology unavailable")

// InfiniteCost stands in for routes the routing daemon reports as INFINITE.
const InfiniteCost = 99.99

const defaultOLSRPort = 2004

// Only lines naming mesh addresses (10.x) matter; HNA records with CIDR
// destinations must not match.
var (
	nodeRegex = regexp.MustCompile(`^"(\d{2}\.\d{1,3}\.\d{1,3}\.\d{1,3})" -> "\d+`)
	linkRegex = regexp.MustCompile(`^"(10\.\d{1,3}\.\d{1,3}\.\d{1,3})" -> "(10\.\d{1,3}\.\d{1,3}\.\d{1,3})"\[label="(.+?)"\];`)
)

// Link is one directed edge from the routing daemon's link-state table.
type Link struct {
	Source      string
	Destination string
	Cost        float64
}

// Topology is the discovered set of mesh participants.
type Topology struct {
	Addresses     []string
	LinksBySource map[string][]Link
	Partial       bool
}

// CostTo returns the routing cost from source to destination, when known.
func (t *Topology) CostTo(source, destination string) (float64, bool) {
	for _, link := range t.LinksBySource[source] {
		if link.Destination == destination {
			return link.Cost, true
		}
	}
	return 0, false
}

// Source queries topology from the configured local node.
type Source struct {
	OLSRAddr   string
	StatusURL  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger

	localNode string
}

// New creates a Source for the given local node host name or address.
func New(localNode string, timeout time.Duration, client *http.Client, logger *slog.Logger) *Source {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Source{
		OLSRAddr:   net.JoinHostPort(localNode, strconv.Itoa(defaultOLSRPort)),
		StatusURL:  fmt.Sprintf("http://%s/cgi-bin/sysinfo.json?link_info=1", localNode),
		Timeout:    timeout,
		HTTPClient: client,
		Logger:     logger,
		localNode:  localNode,
	}
}

// LocalNode returns the configured local node name or address.
func (s *Source) LocalNode() string {
	return s.localNode
}

// Discover obtains the current address list, preferring the routing table and
// falling back to the local node's own neighbor list.
func (s *Source) Discover(ctx context.Context) (*Topology, error) {
	topo, olsrErr := s.fromOLSR(ctx)
	if olsrErr == nil {
		s.Logger.Info("loaded topology from routing table",
			"nodes", len(topo.Addresses), "links", linkCount(topo))
		return topo, nil
	}
	s.Logger.Warn("routing table query failed; falling back to local status document", "err", olsrErr)

	topo, fallbackErr := s.fromStatusDocument(ctx)
	if fallbackErr != nil {
		return nil, fmt.Errorf("%w: routing table: %v; status document: %v",
			ErrUnavailable, olsrErr, fallbackErr)
	}
	topo.Partial = true
	s.Logger.Info("loaded partial topology from local neighbor list", "nodes", len(topo.Addresses))
	return topo, nil
}

func (s *Source) fromOLSR(ctx context.Context) (*Topology, error) {
	dialer := net.Dialer{Timeout: s.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.OLSRAddr)
	if err != nil {
		return nil, fmt.Errorf("connecting to routing daemon: %w", err)
	}
	defer conn.Close()

	if s.Timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.Timeout))
	}
	return parseRoutingTable(conn)
}

func parseRoutingTable(r io.Reader) (*Topology, error) {
	seen := map[string]struct{}{}
	topo := &Topology{LinksBySource: map[string][]Link{}}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if match := nodeRegex.FindStringSubmatch(line); match != nil {
			if _, ok := seen[match[1]]; !ok {
				seen[match[1]] = struct{}{}
				topo.Addresses = append(topo.Addresses, match[1])
			}
		}
		if match := linkRegex.FindStringSubmatch(line); match != nil {
			link := Link{Source: match[1], Destination: match[2], Cost: parseCost(match[3])}
			topo.LinksBySource[link.Source] = append(topo.LinksBySource[link.Source], link)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading routing table: %w", err)
	}
	if len(topo.Addresses) == 0 {
		return nil, errors.New("routing table contained no mesh addresses")
	}
	return topo, nil
}

func parseCost(label string) float64 {
	if label == "INFINITE" {
		return InfiniteCost
	}
	cost, err := strconv.ParseFloat(label, 64)
	if err != nil || cost < 0 {
		return InfiniteCost
	}
	if cost > InfiniteCost {
		return InfiniteCost
	}
	return cost
}

// fromStatusDocument reads the local node's own sysinfo document and uses its
// link table as a neighbor list.
func (s *Source) fromStatusDocument(ctx context.Context) (*Topology, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.StatusURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status document returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	obs, err := aredn.ParseSystemInfo(body, "", time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("parsing local status document: %w", err)
	}
	if len(obs.Links) == 0 {
		return nil, errors.New("local status document lists no neighbors")
	}

	topo := &Topology{LinksBySource: map[string][]Link{}}
	seen := map[string]struct{}{}
	if obs.IPAddress != "" {
		seen[obs.IPAddress] = struct{}{}
		topo.Addresses = append(topo.Addresses, obs.IPAddress)
	}
	for _, link := range obs.Links {
		if link.DestinationIP == "" {
			continue
		}
		if _, ok := seen[link.DestinationIP]; ok {
			continue
		}
		seen[link.DestinationIP] = struct{}{}
		topo.Addresses = append(topo.Addresses, link.DestinationIP)
	}
	return topo, nil
}

func linkCount(t *Topology) int {
	n := 0
	for _, links := range t.LinksBySource {
		n += len(links)
	}
	return n
}
