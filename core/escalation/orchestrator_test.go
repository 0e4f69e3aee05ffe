package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/villagehq/village-core/core/events"
	"github.com/villagehq/village-core/core/session"
	"github.com/villagehq/village-core/core/village"
)

func testRoster(enabled int) *village.Roster {
	members := []village.Member{}
	for i := 0; i < enabled; i++ {
		members = append(members, village.Member{
			ID:      fmt.Sprintf("vm-%03d", i+1),
			Name:    fmt.Sprintf("Member %d", i+1),
			Enabled: true,
		})
	}
	members = append(members, village.Member{ID: "vm-off", Name: "Disabled", Enabled: false})
	return village.NewRoster("elder-1", members...)
}

func actionableConcern() session.Concern {
	return session.Concern{
		ID:             "cn1",
		Dimension:      "physical",
		Severity:       "high",
		Description:    "mentioned chest pain",
		ActionRequired: true,
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) publish(_ string, event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) count(kind events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, event := range r.events {
		if event.Kind() == kind {
			n++
		}
	}
	return n
}

func decodeJSONBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func terminalOrNotified(store *session.Store, sessionID string, want int) func() bool {
	return func() bool {
		snapshot, err := store.Snapshot(sessionID)
		if err != nil {
			return false
		}
		n := 0
		for _, action := range snapshot.Actions {
			if action.Status.Terminal() || action.Status == session.ActionNotified {
				n++
			}
		}
		return n == want
	}
}

func TestEscalationCreatesOneActionPerEnabledMember(t *testing.T) {
	store := session.NewStore()
	recorder := &eventRecorder{}
	o := NewOrchestrator(store, testRoster(3),
		NotifierFunc(func(context.Context, village.Member, session.Concern) error { return nil }),
		recorder.publish)
	defer o.Close()

	o.HandleConcern(context.Background(), "c1", actionableConcern())

	waitFor(t, terminalOrNotified(store, "c1", 3))
	snapshot, _ := store.Snapshot("c1")
	if len(snapshot.Actions) != 3 {
		t.Fatalf("expected exactly 3 actions for 3 enabled members, got %d", len(snapshot.Actions))
	}
	for _, action := range snapshot.Actions {
		if action.Status != session.ActionNotified {
			t.Fatalf("expected action %s to reach notified, got %q", action.ID, action.Status)
		}
		if action.MemberID == "vm-off" {
			t.Fatal("disabled member must not be dispatched to")
		}
	}
	if got := recorder.count(events.KindVillageActionStarted); got != 3 {
		t.Fatalf("expected 3 village_action_started events, got %d", got)
	}
}

func TestEmptyRosterOpensNoWindow(t *testing.T) {
	store := session.NewStore()
	recorder := &eventRecorder{}
	o := NewOrchestrator(store, testRoster(0),
		NotifierFunc(func(context.Context, village.Member, session.Concern) error { return nil }),
		recorder.publish, WithWindow(50*time.Millisecond))
	defer o.Close()

	o.HandleConcern(context.Background(), "c1", actionableConcern())

	if o.Active("c1") {
		t.Fatal("expected no window when no members are enabled")
	}
	if got := recorder.count(events.KindVillageActionStarted); got != 0 {
		t.Fatalf("expected no dispatches, got %d", got)
	}

	time.Sleep(60 * time.Millisecond)
	if o.Active("c1") {
		t.Fatal("expected no timer lingering past the window duration")
	}
}

func TestNonActionableConcernDoesNotEscalate(t *testing.T) {
	store := session.NewStore()
	recorder := &eventRecorder{}
	o := NewOrchestrator(store, testRoster(2),
		NotifierFunc(func(context.Context, village.Member, session.Concern) error { return nil }),
		recorder.publish)
	defer o.Close()

	concern := actionableConcern()
	concern.ActionRequired = false
	o.HandleConcern(context.Background(), "c1", concern)

	if o.Active("c1") {
		t.Fatal("expected no escalation window for a non-actionable concern")
	}
	if got := recorder.count(events.KindVillageActionStarted); got != 0 {
		t.Fatalf("expected no dispatches, got %d", got)
	}
}

func TestSecondQualifyingConcernReusesOpenWindow(t *testing.T) {
	store := session.NewStore()
	recorder := &eventRecorder{}
	o := NewOrchestrator(store, testRoster(2),
		NotifierFunc(func(context.Context, village.Member, session.Concern) error { return nil }),
		recorder.publish,
		WithWindow(time.Minute))
	defer o.Close()

	o.HandleConcern(context.Background(), "c1", actionableConcern())
	second := actionableConcern()
	second.ID = "cn2"
	o.HandleConcern(context.Background(), "c1", second)

	waitFor(t, terminalOrNotified(store, "c1", 2))
	snapshot, _ := store.Snapshot("c1")
	if len(snapshot.Actions) != 2 {
		t.Fatalf("expected the second concern to reuse the window, got %d actions", len(snapshot.Actions))
	}
}

func TestDispatchFailureIsIsolated(t *testing.T) {
	store := session.NewStore()
	recorder := &eventRecorder{}
	o := NewOrchestrator(store, testRoster(3),
		NotifierFunc(func(_ context.Context, member village.Member, _ session.Concern) error {
			if member.ID == "vm-002" {
				return fmt.Errorf("phone unreachable")
			}
			return nil
		}),
		recorder.publish)
	defer o.Close()

	o.HandleConcern(context.Background(), "c1", actionableConcern())

	waitFor(t, terminalOrNotified(store, "c1", 3))
	snapshot, _ := store.Snapshot("c1")
	for _, action := range snapshot.Actions {
		switch action.MemberID {
		case "vm-002":
			if action.Status != session.ActionFailed {
				t.Fatalf("expected vm-002 to fail, got %q", action.Status)
			}
		default:
			if action.Status != session.ActionNotified {
				t.Fatalf("expected %s to be notified despite vm-002 failing, got %q", action.MemberID, action.Status)
			}
		}
	}
}

func TestDeadlineTimesOutUnansweredActions(t *testing.T) {
	store := session.NewStore()
	recorder := &eventRecorder{}
	o := NewOrchestrator(store, testRoster(2),
		NotifierFunc(func(context.Context, village.Member, session.Concern) error { return nil }),
		recorder.publish,
		WithWindow(50*time.Millisecond))
	defer o.Close()

	o.HandleConcern(context.Background(), "c1", actionableConcern())

	waitFor(t, func() bool {
		snapshot, err := store.Snapshot("c1")
		if err != nil {
			return false
		}
		for _, action := range snapshot.Actions {
			if action.Status != session.ActionTimedOut {
				return false
			}
		}
		return len(snapshot.Actions) == 2
	})
	if o.Active("c1") {
		t.Fatal("expected the window to close after the deadline sweep")
	}
}

func TestResponseAcknowledgesActionAndLateResponseIsDropped(t *testing.T) {
	store := session.NewStore()
	recorder := &eventRecorder{}
	o := NewOrchestrator(store, testRoster(2),
		NotifierFunc(func(context.Context, village.Member, session.Concern) error { return nil }),
		recorder.publish,
		WithWindow(60*time.Millisecond))
	defer o.Close()

	o.HandleConcern(context.Background(), "c1", actionableConcern())
	waitFor(t, terminalOrNotified(store, "c1", 2))

	snapshot, _ := store.Snapshot("c1")
	answered := snapshot.Actions[0].ID
	o.HandleResponse(context.Background(), "c1", answered, "On my way")

	waitFor(t, func() bool {
		s, _ := store.Snapshot("c1")
		action, _ := s.ActionByID(answered)
		return action.Status == session.ActionAcknowledged
	})

	// Let the deadline pass, then try to acknowledge the timed-out action.
	var timedOut string
	waitFor(t, func() bool {
		s, _ := store.Snapshot("c1")
		for _, action := range s.Actions {
			if action.Status == session.ActionTimedOut {
				timedOut = action.ID
				return true
			}
		}
		return false
	})
	o.HandleResponse(context.Background(), "c1", timedOut, "too late")

	s, _ := store.Snapshot("c1")
	action, _ := s.ActionByID(timedOut)
	if action.Status != session.ActionTimedOut {
		t.Fatalf("expected timed_out to be terminal, got %q", action.Status)
	}
	if action.Response != "" {
		t.Fatalf("expected late response to be dropped, got %q", action.Response)
	}

	acknowledged, _ := s.ActionByID(answered)
	if acknowledged.Status != session.ActionAcknowledged || acknowledged.Response != "On my way" {
		t.Fatalf("expected acknowledgment to survive the deadline, got %+v", acknowledged)
	}
}

func TestAllResponsesCloseWindowEarly(t *testing.T) {
	store := session.NewStore()
	recorder := &eventRecorder{}
	o := NewOrchestrator(store, testRoster(2),
		NotifierFunc(func(context.Context, village.Member, session.Concern) error { return nil }),
		recorder.publish,
		WithWindow(time.Hour))
	defer o.Close()

	o.HandleConcern(context.Background(), "c1", actionableConcern())
	waitFor(t, terminalOrNotified(store, "c1", 2))

	snapshot, _ := store.Snapshot("c1")
	for _, action := range snapshot.Actions {
		o.HandleResponse(context.Background(), "c1", action.ID, "ok")
	}

	waitFor(t, func() bool { return !o.Active("c1") })
}

func TestResponseForUnknownActionDropped(t *testing.T) {
	store := session.NewStore()
	recorder := &eventRecorder{}
	o := NewOrchestrator(store, testRoster(1),
		NotifierFunc(func(context.Context, village.Member, session.Concern) error { return nil }),
		recorder.publish)
	defer o.Close()

	o.HandleConcern(context.Background(), "c1", actionableConcern())
	before := recorder.count(events.KindVillageActionUpdate)

	o.HandleResponse(context.Background(), "c1", "no-such-action", "hello?")

	if got := recorder.count(events.KindVillageActionUpdate); got != before {
		t.Fatalf("expected no update events for an unknown action, got %d new", got-before)
	}
}

func TestCloseAbandonsTimersWithoutLateWrites(t *testing.T) {
	store := session.NewStore()
	recorder := &eventRecorder{}
	block := make(chan struct{})
	o := NewOrchestrator(store, testRoster(1),
		NotifierFunc(func(ctx context.Context, _ village.Member, _ session.Concern) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-block:
				return nil
			}
		}),
		recorder.publish,
		WithWindow(time.Hour))

	o.HandleConcern(context.Background(), "c1", actionableConcern())
	o.Close()

	snapshot, _ := store.Snapshot("c1")
	if len(snapshot.Actions) != 1 {
		t.Fatalf("expected the dispatch record to exist, got %d", len(snapshot.Actions))
	}
	// Dispatch was cancelled mid-flight: the action fails on context
	// cancellation and no goroutine is left behind.
	action := snapshot.Actions[0]
	if action.Status != session.ActionFailed && action.Status != session.ActionPending {
		t.Fatalf("expected pending or failed after teardown, got %q", action.Status)
	}
	close(block)
}

func TestHTTPNotifierPostsAndParsesEnvelope(t *testing.T) {
	var got notifyRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/notify" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := decodeJSONBody(r, &got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	notifier := &HTTPNotifier{BaseURL: server.URL, Token: "secret"}
	err := notifier.Notify(context.Background(),
		village.Member{ID: "vm-001", Name: "Susan Chen", Phone: "+1-215-555-0198"},
		actionableConcern())
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.MemberID != "vm-001" || got.Severity != "high" {
		t.Fatalf("unexpected request payload: %+v", got)
	}
}

func TestHTTPNotifierTreatsAPIErrorAsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error":"unreachable"}`)
	}))
	defer server.Close()

	notifier := &HTTPNotifier{BaseURL: server.URL}
	err := notifier.Notify(context.Background(), village.Member{ID: "vm-001", Name: "Susan"}, actionableConcern())
	if err == nil {
		t.Fatal("expected error for non-ok envelope")
	}
}
