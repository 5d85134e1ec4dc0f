package notification

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeRecipients struct {
	emails []string
	err    error
}

func (f *fakeRecipients) RecipientsFor(ctx context.Context, orgID string) ([]string, error) {
	return f.emails, f.err
}

type fakeRecorder struct {
	recorded int
}

func (f *fakeRecorder) RecordNotification(ctx context.Context, tagID, kind string, triggeredAt time.Time, recipient, subject string) error {
	f.recorded++
	return nil
}

func testEvent() AlarmEvent {
	return AlarmEvent{
		ID:          "a1",
		OrgID:       "demo-org",
		TagID:       "truck-001",
		Kind:        "EXCESS_SPEED",
		Severity:    "WARNING",
		TriggeredAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		Lat:         52.52,
		Lon:         13.40,
	}
}

func TestHandleEventNoRecipients(t *testing.T) {
	recorder := &fakeRecorder{}
	n := NewNotifier(&fakeRecipients{}, recorder, "localhost", 25, "", "")

	// An org without recipients is not an error, just nothing to do.
	if err := n.handleEvent(context.Background(), testEvent()); err != nil {
		t.Fatalf("handleEvent: %v", err)
	}
	if recorder.recorded != 0 {
		t.Errorf("recorded %d notifications, want 0", recorder.recorded)
	}
}

func TestHandleEventRecipientLookupFails(t *testing.T) {
	n := NewNotifier(&fakeRecipients{err: errors.New("db down")}, &fakeRecorder{}, "localhost", 25, "", "")

	if err := n.handleEvent(context.Background(), testEvent()); err == nil {
		t.Fatal("handleEvent succeeded despite recipient lookup failure")
	}
}
