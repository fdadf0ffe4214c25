package reconcile

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/meshtools/meshwatch/internal/model"
)

func testReconciler() *Reconciler {
	r := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	n := 0
	r.newID = func() string {
		n++
		return fmt.Sprintf("id-%04d", n)
	}
	return r
}

func obs(name, ip string) *model.NodeObservation {
	return &model.NodeObservation{Name: name, IPAddress: ip}
}

func knownNode(id, name, ip string, status model.Status) model.Node {
	return model.Node{ID: id, Name: name, WLANIP: ip, Status: status}
}

func TestMatchByIPKeepsIdentityAcrossRename(t *testing.T) {
	runAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	known := []model.Node{knownNode("node-a", "old-name", "10.1.1.1", model.StatusRecent)}

	result := testReconciler().Run([]*model.NodeObservation{obs("new-name", "10.1.1.1")}, known, runAt)

	if result.Updated != 1 || result.Created != 0 {
		t.Fatalf("updated=%d created=%d, want 1/0", result.Updated, result.Created)
	}
	got := result.Nodes[0]
	if got.ID != "node-a" {
		t.Fatalf("id = %q, want node-a", got.ID)
	}
	if got.Name != "new-name" {
		t.Fatalf("name = %q, want new-name", got.Name)
	}
	if got.Status != model.StatusCurrent || !got.LastSeen.Equal(runAt) {
		t.Fatalf("status=%v lastSeen=%v, want current at %v", got.Status, got.LastSeen, runAt)
	}
}

func TestMatchByNameWhenIPChanged(t *testing.T) {
	runAt := time.Now().UTC()
	known := []model.Node{knownNode("node-a", "kd5xyz-hilltop", "10.1.1.1", model.StatusCurrent)}

	result := testReconciler().Run([]*model.NodeObservation{obs("kd5xyz-hilltop", "10.9.9.9")}, known, runAt)

	if result.Updated != 1 {
		t.Fatalf("updated = %d, want 1", result.Updated)
	}
	if result.Nodes[0].ID != "node-a" {
		t.Fatalf("id = %q, want node-a", result.Nodes[0].ID)
	}
	if result.Nodes[0].WLANIP != "10.9.9.9" {
		t.Fatalf("wlan ip = %q, want updated address", result.Nodes[0].WLANIP)
	}
}

// An identity whose previous holder aged out is a new entity. The caller only
// passes active and recent nodes, so the stale holder never matches and its
// row is left alone.
func TestInactiveIdentityMintsNewID(t *testing.T) {
	runAt := time.Now().UTC()

	result := testReconciler().Run([]*model.NodeObservation{obs("returning-node", "10.1.1.1")}, nil, runAt)

	if result.Created != 1 || result.Updated != 0 {
		t.Fatalf("created=%d updated=%d, want 1/0", result.Created, result.Updated)
	}
	got := result.Nodes[0]
	if got.ID == "" || got.ID == "node-a" {
		t.Fatalf("expected a freshly minted id, got %q", got.ID)
	}
	if !got.FirstSeen.Equal(runAt) {
		t.Fatalf("first seen = %v, want %v", got.FirstSeen, runAt)
	}
}

func TestDuplicateIdentityKeyFlagsConflict(t *testing.T) {
	runAt := time.Now().UTC()
	known := []model.Node{knownNode("node-a", "dup", "10.1.1.1", model.StatusCurrent)}

	result := testReconciler().Run([]*model.NodeObservation{
		obs("dup", "10.1.1.1"),
		obs("dup", "10.1.1.1"),
	}, known, runAt)

	if len(result.Nodes) != 2 {
		t.Fatalf("nodes = %d, want both observations recorded", len(result.Nodes))
	}
	if len(result.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(result.Conflicts))
	}
	conflict := result.Conflicts[0]
	if conflict.KeptNodeID != "node-a" {
		t.Fatalf("kept id = %q, want node-a", conflict.KeptNodeID)
	}
	if conflict.IdentityKey != "10.1.1.1" {
		t.Fatalf("identity key = %q, want the shared address", conflict.IdentityKey)
	}
	if conflict.NewNodeID == conflict.KeptNodeID {
		t.Fatal("duplicate observation must not share the kept id")
	}
}

func TestDuplicateKeyAmongNewNodesFlagsConflict(t *testing.T) {
	runAt := time.Now().UTC()

	result := testReconciler().Run([]*model.NodeObservation{
		obs("first", "10.1.1.1"),
		obs("second", "10.1.1.1"),
	}, nil, runAt)

	if result.Created != 2 {
		t.Fatalf("created = %d, want both observations recorded", result.Created)
	}
	if len(result.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(result.Conflicts))
	}
	if result.Conflicts[0].IdentityKey != "10.1.1.1" {
		t.Fatalf("identity key = %q", result.Conflicts[0].IdentityKey)
	}
}

func TestAssignmentsIndependentOfArrivalOrder(t *testing.T) {
	runAt := time.Now().UTC()
	known := []model.Node{
		knownNode("node-a", "alpha", "10.1.1.1", model.StatusCurrent),
		knownNode("node-b", "bravo", "10.1.1.2", model.StatusRecent),
		knownNode("node-c", "charlie", "10.1.1.3", model.StatusCurrent),
	}
	observations := []*model.NodeObservation{
		obs("alpha-renamed", "10.1.1.1"),
		obs("bravo", "10.1.1.2"),
		obs("charlie", "10.1.1.3"),
		obs("delta", "10.1.1.4"),
		obs("echo", "10.1.1.5"),
	}

	baseline := testReconciler().Run(observations, cloneNodes(known), runAt)
	baseIDs := idsByName(baseline)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 10; trial++ {
		shuffled := make([]*model.NodeObservation, len(observations))
		copy(shuffled, observations)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		result := testReconciler().Run(shuffled, cloneNodes(known), runAt)
		got := idsByName(result)
		if len(got) != len(baseIDs) {
			t.Fatalf("trial %d: %d assignments, want %d", trial, len(got), len(baseIDs))
		}
		for name, id := range baseIDs {
			if got[name] != id {
				t.Fatalf("trial %d: %q assigned %q, want %q", trial, name, got[name], id)
			}
		}
	}
}

func cloneNodes(nodes []model.Node) []model.Node {
	out := make([]model.Node, len(nodes))
	copy(out, nodes)
	return out
}

func idsByName(r Result) map[string]string {
	out := make(map[string]string, len(r.Nodes))
	for _, n := range r.Nodes {
		out[n.Name] = n.ID
	}
	return out
}
