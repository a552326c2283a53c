package registry

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
)

func noop(ctx context.Context, args json.RawMessage) error { return nil }

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	r.Register("sum_task", "default", noop, nil)

	entry, ok := r.Lookup("sum_task")
	if !ok {
		t.Fatal("expected sum_task to be found")
	}
	if entry.Queue != "default" {
		t.Errorf("got queue %q, want default", entry.Queue)
	}
}

func TestLookupMissing(t *testing.T) {
	r := New()
	if _, ok := r.Lookup("nope"); ok {
		t.Error("expected nope to be missing")
	}
}

func TestRegisterReplacesPriorEntry(t *testing.T) {
	r := New()
	r.Register("task", "queue-a", noop, nil)
	r.Register("task", "queue-b", noop, nil)

	entry, ok := r.Lookup("task")
	if !ok {
		t.Fatal("expected task to be found")
	}
	if entry.Queue != "queue-b" {
		t.Errorf("got queue %q, want queue-b (last writer wins)", entry.Queue)
	}
}

func TestQueuesIsUnionOfRegisteredQueues(t *testing.T) {
	r := New()
	r.Register("a", "default", noop, nil)
	r.Register("b", "default", noop, nil)
	r.Register("c", "product_queue", noop, nil)

	queues := r.Queues()
	sort.Strings(queues)
	want := []string{"default", "product_queue"}
	if len(queues) != len(want) {
		t.Fatalf("got %v, want %v", queues, want)
	}
	for i := range want {
		if queues[i] != want[i] {
			t.Errorf("got %v, want %v", queues, want)
		}
	}
}
