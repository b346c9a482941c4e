package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"expert-booking/pkg/payment"

	"github.com/google/uuid"
)

func TestCaptureService_SweepCaptures(t *testing.T) {
	f := newFixture(t)
	due := f.book(t, "09:00", 30)
	failing := f.book(t, "10:00", 30)
	closed := f.book(t, "11:00", 30)
	notYet := f.book(t, "11:30", 30)

	now := f.clock.Now()
	f.authorize(t, due.ID, "pi_due", now.Add(-time.Minute))
	f.authorize(t, failing.ID, "pi_failing", now.Add(-time.Minute))
	f.authorize(t, closed.ID, "pi_closed", now)
	f.authorize(t, notYet.ID, "pi_later", now.Add(time.Hour))

	f.gateway.captureErr["pi_failing"] = errors.New("card declined")
	f.gateway.captureErr["pi_closed"] = payment.ErrAuthorizationClosed

	result, err := f.svc.Capture.SweepCaptures(context.Background())
	if err != nil {
		t.Fatalf("SweepCaptures should succeed: %v", err)
	}

	if result.Due != 3 || result.Captured != 1 || result.Failed != 2 {
		t.Errorf("unexpected sweep result %+v", result)
	}

	if !f.store.slot(uuid.MustParse(due.ID)).Paid {
		t.Error("due slot should be captured")
	}
	stuck := f.store.slot(uuid.MustParse(failing.ID))
	if stuck.Paid || !stuck.Authorized {
		t.Error("failed capture should leave the slot authorized for retry")
	}
	if f.store.slot(uuid.MustParse(notYet.ID)).Paid {
		t.Error("slot scheduled later must not be captured")
	}

	// the next sweep retries only what is still authorized
	delete(f.gateway.captureErr, "pi_failing")
	result, err = f.svc.Capture.SweepCaptures(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Captured != 1 {
		t.Errorf("retry should capture the failed slot, got %+v", result)
	}
}

func TestCaptureService_SweepCaptures_Nothing(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Capture.SweepCaptures(context.Background())
	if err != nil {
		t.Fatalf("empty sweep should succeed: %v", err)
	}
	if result != (SweepResult{}) {
		t.Errorf("expected empty result, got %+v", result)
	}
	if len(f.gateway.captures) != 0 {
		t.Errorf("no capture calls expected, got %v", f.gateway.captures)
	}
}
