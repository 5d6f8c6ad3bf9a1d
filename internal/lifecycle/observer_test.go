package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cyverse/cloudgw/internal/model"
	"github.com/google/go-cmp/cmp"
)

// recordingObserver records the hooks it receives and optionally fails one of them.
type recordingObserver struct {
	Base
	name   string
	mu     *sync.Mutex
	log    *[]string
	failOn string
	err    error
}

func (o *recordingObserver) note(hook string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	*o.log = append(*o.log, o.name+":"+hook)
	if hook == o.failOn {
		return o.err
	}
	return nil
}

func (o *recordingObserver) Creating(context.Context, *Event) error { return o.note("creating") }
func (o *recordingObserver) Created(context.Context, *Event) error  { return o.note("created") }
func (o *recordingObserver) Deleting(context.Context, *Event) error { return o.note("deleting") }
func (o *recordingObserver) Deleted(context.Context, *Event) error  { return o.note("deleted") }

func TestObserversRunInRegistrationOrder(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	first := &recordingObserver{name: "first", mu: &mu, log: &calls}
	second := &recordingObserver{name: "second", mu: &mu, log: &calls}

	env := newTestEnv(t, first, second)
	r := env.create(t, alice, "web")
	if _, err := env.coordinator.Delete(context.Background(), alice, r.ID); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	expected := []string{
		"first:creating", "second:creating",
		"first:created", "second:created",
		"first:deleting", "second:deleting",
		"first:deleted", "second:deleted",
	}
	if diff := cmp.Diff(expected, calls); diff != "" {
		t.Errorf("unexpected hook order (-want +got):\n%s", diff)
	}
}

func TestRefusingObserverAbortsCreation(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	refusal := NewPolicyViolation(ReasonForbidden, "no more servers")
	refuser := &recordingObserver{name: "refuser", mu: &mu, log: &calls, failOn: "creating", err: refusal}
	after := &recordingObserver{name: "after", mu: &mu, log: &calls}

	env := newTestEnv(t, refuser, after)
	_, err := env.coordinator.Create(context.Background(), alice, &NewResource{Name: "web", ServerType: "cx21", Location: "fsn1"})
	expectPolicyViolation(t, err, ReasonForbidden)

	if diff := cmp.Diff([]string{"refuser:creating"}, calls); diff != "" {
		t.Errorf("unexpected hooks (-want +got):\n%s", diff)
	}
	resources, _ := env.store.ListResources(context.Background(), model.ResourceFilter{IncludeDeleted: true})
	if len(resources) != 0 {
		t.Errorf("a refused resource was stored: %+v", resources)
	}
	if env.gateway.count("create") != 0 {
		t.Error("the refused resource reached the gateway")
	}
}

func TestFailingAfterHookKeepsMutation(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	failure := errors.New("notification failed")
	failing := &recordingObserver{name: "failing", mu: &mu, log: &calls, failOn: "deleted", err: failure}
	after := &recordingObserver{name: "after", mu: &mu, log: &calls}

	env := newTestEnv(t, failing, after)
	r := env.create(t, alice, "web")

	deleted, err := env.coordinator.Delete(context.Background(), alice, r.ID)
	hookErr, ok := AsHookError(err)
	if !ok {
		t.Fatalf("expected a hook error, got %v", err)
	}
	if hookErr.Hook != "deleted" || !errors.Is(err, failure) {
		t.Errorf("unexpected hook error: %v", hookErr)
	}
	if deleted == nil || !env.stored(t, r.ID).IsDeleted() {
		t.Error("the deletion didn't stand")
	}
	if calls[len(calls)-1] != "after:deleted" {
		t.Errorf("later observers were skipped: %v", calls)
	}
}
