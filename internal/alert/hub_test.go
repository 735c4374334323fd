package alert

import (
	"testing"
	"time"

	"github.com/chandra-dot-dev/meditriage/internal/triage"
)

func highRiskEvent(doctor, department string) Event {
	return Event{
		RecordID:   "rec-1",
		Kind:       KindCreated,
		RiskLevel:  triage.RiskHigh,
		Department: department,
		DoctorRef:  doctor,
		Status:     "pending",
		OccurredAt: time.Now().UTC(),
	}
}

func TestScopeMatching(t *testing.T) {
	e := highRiskEvent("doc-7", "Cardiology")

	cases := []struct {
		scope Scope
		want  bool
	}{
		{Scope{Kind: ScopeAdmin}, true},
		{Scope{Kind: ScopeDoctor, Value: "doc-7"}, true},
		{Scope{Kind: ScopeDoctor, Value: "doc-9"}, false},
		{Scope{Kind: ScopeDepartment, Value: "Cardiology"}, true},
		{Scope{Kind: ScopeDepartment, Value: "Neurology"}, false},
	}
	for _, tc := range cases {
		if got := tc.scope.Matches(e); got != tc.want {
			t.Errorf("scope %+v matches = %v, want %v", tc.scope, got, tc.want)
		}
	}

	unassigned := highRiskEvent("", "Emergency")
	if (Scope{Kind: ScopeDoctor, Value: "doc-7"}).Matches(unassigned) {
		t.Error("unassigned record must not match a doctor scope")
	}
}

func TestHubDeliversOncePerSubscriber(t *testing.T) {
	hub := NewHub(nil)

	admin, cancelAdmin := hub.Subscribe(Scope{Kind: ScopeAdmin})
	defer cancelAdmin()
	cardio, cancelCardio := hub.Subscribe(Scope{Kind: ScopeDepartment, Value: "Cardiology"})
	defer cancelCardio()
	neuro, cancelNeuro := hub.Subscribe(Scope{Kind: ScopeDepartment, Value: "Neurology"})
	defer cancelNeuro()

	hub.Notify(highRiskEvent("doc-7", "Cardiology"))

	select {
	case e := <-admin:
		if e.RecordID != "rec-1" {
			t.Errorf("admin got record %s", e.RecordID)
		}
	case <-time.After(time.Second):
		t.Fatal("admin subscriber did not receive event")
	}

	select {
	case <-cardio:
	case <-time.After(time.Second):
		t.Fatal("cardiology subscriber did not receive event")
	}

	select {
	case e := <-neuro:
		t.Errorf("neurology subscriber should not receive %+v", e)
	default:
	}

	// No duplicate delivery for the same logical change.
	select {
	case e := <-admin:
		t.Errorf("admin received duplicate event %+v", e)
	default:
	}
}

func TestHubNeverBlocksPublisher(t *testing.T) {
	hub := NewHub(nil)
	_, cancel := hub.Subscribe(Scope{Kind: ScopeAdmin})
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Nobody drains: overflow must drop, not block.
		for i := 0; i < DefaultSubscriberBuffer*3; i++ {
			hub.Notify(highRiskEvent("", "Emergency"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a slow subscriber")
	}
}

func TestHubCancelRemovesSubscriber(t *testing.T) {
	hub := NewHub(nil)
	ch, cancel := hub.Subscribe(Scope{Kind: ScopeAdmin})
	cancel()

	if _, open := <-ch; open {
		t.Error("channel should be closed after cancel")
	}
	if hub.SubscriberCount() != 0 {
		t.Errorf("subscriber count = %d, want 0", hub.SubscriberCount())
	}
	// Idempotent cancel.
	cancel()
}

func TestHubCountsDroppedDeliveries(t *testing.T) {
	hub := NewHub(nil)
	dropped := 0
	hub.OnDrop(func() { dropped++ })

	_, cancel := hub.Subscribe(Scope{Kind: ScopeAdmin})
	defer cancel()

	// Fill the buffer, then overflow by two.
	for i := 0; i < DefaultSubscriberBuffer+2; i++ {
		hub.Notify(highRiskEvent("", "Emergency"))
	}

	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
}
