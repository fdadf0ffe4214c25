package crawler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meshtools/meshwatch/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const validSysinfo = `{
	"node": "Test-Node",
	"api_version": "1.11",
	"interfaces": [{"name": "wlan0", "mac": "00:00:00:00:00:01", "ip": "10.1.1.1"}],
	"sysinfo": {"uptime": "1 days, 0:00:00", "loads": [0.1, 0.1, 0.1]},
	"meshrf": {"status": "on", "channel": "175"},
	"node_details": {"firmware_version": "3.22.6.0", "firmware_mfg": "AREDN", "model": "x", "board_id": "y"},
	"tunnels": {"active_tunnel_count": 0}
}`

func TestConcurrencyLimitNeverExceeded(t *testing.T) {
	const limit = 5
	const total = 60

	c := New(limit, time.Second, nil, discardLogger())

	var inflight, peak int64
	release := make(chan struct{})
	c.fetch = func(_ context.Context, address string) (*model.NodeObservation, *model.NodeError) {
		current := atomic.AddInt64(&inflight, 1)
		for {
			observed := atomic.LoadInt64(&peak)
			if current <= observed || atomic.CompareAndSwapInt64(&peak, observed, current) {
				break
			}
		}
		<-release
		atomic.AddInt64(&inflight, -1)
		return &model.NodeObservation{Name: address, IPAddress: address}, nil
	}

	addresses := make([]string, total)
	for i := range addresses {
		addresses[i] = fmt.Sprintf("10.1.1.%d", i+1)
	}

	done := make(chan struct{})
	var observations []*model.NodeObservation
	go func() {
		observations, _ = c.Crawl(context.Background(), addresses)
		close(done)
	}()

	// let the pool saturate, then release all workers
	time.Sleep(50 * time.Millisecond)
	close(release)
	<-done

	if got := atomic.LoadInt64(&peak); got > limit {
		t.Fatalf("concurrency limit exceeded: %d in flight with limit %d", got, limit)
	}
	if len(observations) != total {
		t.Fatalf("expected %d observations, got %d", total, len(observations))
	}
}

func TestStalledNodeDoesNotBlockOthers(t *testing.T) {
	c := New(2, 100*time.Millisecond, nil, discardLogger())

	var completed int64
	c.fetch = func(ctx context.Context, address string) (*model.NodeObservation, *model.NodeError) {
		if address == "10.0.0.1" {
			// stalled node: waits for its own timeout
			<-ctx.Done()
			atomic.AddInt64(&completed, 1)
			return nil, &model.NodeError{IPAddress: address, Category: model.ErrorTimeout}
		}
		atomic.AddInt64(&completed, 1)
		return &model.NodeObservation{Name: address, IPAddress: address}, nil
	}
	// deadline only applies inside fetchNode normally; emulate it here
	baseFetch := c.fetch
	c.fetch = func(ctx context.Context, address string) (*model.NodeObservation, *model.NodeError) {
		fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return baseFetch(fetchCtx, address)
	}

	addresses := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"}
	start := time.Now()
	observations, nodeErrors := c.Crawl(context.Background(), addresses)
	elapsed := time.Since(start)

	if len(observations) != 3 || len(nodeErrors) != 1 {
		t.Fatalf("expected 3 observations and 1 error, got %d/%d", len(observations), len(nodeErrors))
	}
	if elapsed > time.Second {
		t.Fatalf("stalled node extended the whole run: %v", elapsed)
	}
	if atomic.LoadInt64(&completed) != int64(len(addresses)) {
		t.Fatalf("not all tasks completed")
	}
}

func TestFetchNodeCategories(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/cgi-bin/sysinfo.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(validSysinfo))
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	addr := strings.TrimPrefix(server.URL, "http://")

	c := New(1, time.Second, nil, discardLogger())

	obs, nodeErr := c.fetchNode(context.Background(), addr)
	if nodeErr != nil {
		t.Fatalf("unexpected error: %+v", nodeErr)
	}
	if obs.Name != "test-node" {
		t.Fatalf("unexpected node name %q", obs.Name)
	}

	// transport: nothing listens on port 1
	_, nodeErr = c.fetchNode(context.Background(), "127.0.0.1:1")
	if nodeErr == nil || nodeErr.Category != model.ErrorTransport {
		t.Fatalf("expected transport error, got %+v", nodeErr)
	}
}

func TestFetchNodeTimeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	c := New(1, 100*time.Millisecond, nil, discardLogger())
	_, nodeErr := c.fetchNode(context.Background(), strings.TrimPrefix(server.URL, "http://"))
	if nodeErr == nil || nodeErr.Category != model.ErrorTimeout {
		t.Fatalf("expected timeout error, got %+v", nodeErr)
	}
}

func TestFetchNodeHTTPAndParseErrors(t *testing.T) {
	badServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer badServer.Close()
	parseServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer parseServer.Close()

	c := New(1, time.Second, nil, discardLogger())

	_, nodeErr := c.fetchNode(context.Background(), strings.TrimPrefix(badServer.URL, "http://"))
	if nodeErr == nil || nodeErr.Category != model.ErrorHTTP {
		t.Fatalf("expected http error, got %+v", nodeErr)
	}
	if !strings.Contains(nodeErr.Details, "500") {
		t.Fatalf("expected status in details, got %q", nodeErr.Details)
	}

	_, nodeErr = c.fetchNode(context.Background(), strings.TrimPrefix(parseServer.URL, "http://"))
	if nodeErr == nil || nodeErr.Category != model.ErrorParse {
		t.Fatalf("expected parse error, got %+v", nodeErr)
	}
	if !strings.Contains(nodeErr.Details, "not json") {
		t.Fatalf("raw response should be kept for diagnostics, got %q", nodeErr.Details)
	}
}

type fakeNames struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeNames) ReverseLookup(_ context.Context, ip string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "resolved-" + ip
}

func TestErrorsCarryResolvedNames(t *testing.T) {
	names := &fakeNames{}
	c := New(1, 200*time.Millisecond, names, discardLogger())

	_, nodeErr := c.fetchNode(context.Background(), "127.0.0.1:1")
	if nodeErr == nil {
		t.Fatalf("expected error")
	}
	if nodeErr.DNSName != "resolved-127.0.0.1:1" {
		t.Fatalf("expected resolved name on error, got %q", nodeErr.DNSName)
	}
	if names.calls != 1 {
		t.Fatalf("expected one lookup, got %d", names.calls)
	}
}
