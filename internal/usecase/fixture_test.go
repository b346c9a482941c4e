package usecase

import (
	"context"
	"testing"
	"time"

	"expert-booking/internal/calendar"
	"expert-booking/internal/data/entity"
	"expert-booking/internal/dto/request"
	"expert-booking/internal/dto/response"
	"expert-booking/pkg/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// 2024-06-10 is a Monday.
var monday = calendar.Date{Year: 2024, Month: time.June, Day: 10}

type fixture struct {
	store       *memStore
	gateway     *mockGateway
	publisher   *mockPublisher
	deduper     *mockDeduper
	clock       *fakeClock
	config      *utils.Config
	svc         *Service
	expertID    uuid.UUID
	clientID    uuid.UUID
	specialtyID uuid.UUID
}

func testConfig() *utils.Config {
	return &utils.Config{
		Payment: utils.PaymentConfig{
			Currency:           "eur",
			SuccessURL:         "https://app.test/ok",
			CancelURL:          "https://app.test/ko",
			CheckoutTTLMinutes: 30,
			WebhookDedupTTL:    time.Hour,
		},
		Booking: utils.BookingConfig{
			Location:           time.UTC,
			HorizonDays:        30,
			HoldMinutes:        2,
			DefaultLeadMinutes: 10,
			CaptureWeekday:     time.Monday,
			CaptureTime:        "10:00",
		},
		Jobs: utils.JobsConfig{
			CaptureBatchSize:   100,
			CaptureConcurrency: 4,
		},
	}
}

// newFixture seeds one expert working Mondays 09:00-12:00 with a 30 and 60 minute price.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:       newMemStore(),
		gateway:     newMockGateway(),
		publisher:   &mockPublisher{},
		deduper:     newMockDeduper(),
		clock:       &fakeClock{now: monday.At(calendar.MustParseClock("08:00"), time.UTC)},
		config:      testConfig(),
		expertID:    uuid.New(),
		clientID:    uuid.New(),
		specialtyID: uuid.New(),
	}

	f.store.experts[f.expertID] = &entity.Expert{
		BaseNoDelete: entity.BaseNoDelete{ID: f.expertID},
		DisplayName:  "Dr. Test",
		WeeklySchedule: calendar.WeeklySchedule{
			Monday: []calendar.Range{{Start: calendar.MustParseClock("09:00"), End: calendar.MustParseClock("12:00")}},
		},
	}
	f.store.offerings[[2]uuid.UUID{f.expertID, f.specialtyID}] = &entity.SpecialtyOffering{
		ExpertID:    f.expertID,
		SpecialtyID: f.specialtyID,
		Prices: map[int]decimal.Decimal{
			30: decimal.RequireFromString("50.00"),
			60: decimal.RequireFromString("90.00"),
		},
	}

	f.svc = NewService(Dependencies{
		Repo:      f.store.repository(),
		Config:    f.config,
		Gateway:   f.gateway,
		Publisher: f.publisher,
		Deduper:   f.deduper,
		Now:       f.clock.Now,
	}, zap.NewNop())

	return f
}

func (f *fixture) bookingRequest(start string, duration int) *request.CreateBookingRequest {
	return &request.CreateBookingRequest{
		ExpertID:    f.expertID.String(),
		SpecialtyID: f.specialtyID.String(),
		Date:        monday.String(),
		Start:       start,
		Duration:    duration,
	}
}

func (f *fixture) book(t *testing.T, start string, duration int) *response.BookedSlotResponse {
	t.Helper()
	slot, err := f.svc.Booking.BookSlot(context.Background(), f.clientID.String(), f.bookingRequest(start, duration))
	if err != nil {
		t.Fatalf("BookSlot(%s) should succeed: %v", start, err)
	}
	return slot
}

func (f *fixture) client() utils.Principal {
	return utils.Principal{ID: f.clientID, Role: utils.RoleClient}
}

func (f *fixture) expert() utils.Principal {
	return utils.Principal{ID: f.expertID, Role: utils.RoleExpert}
}

// authorize puts a slot straight into the authorized state.
func (f *fixture) authorize(t *testing.T, slotID string, ref string, captureAt time.Time) {
	t.Helper()
	id := uuid.MustParse(slotID)
	now := f.clock.Now()
	ok, err := f.store.repository().BookedSlot.MarkAuthorized(context.Background(), id, ref, now, captureAt)
	if err != nil || !ok {
		t.Fatalf("authorize slot %s: ok=%v err=%v", slotID, ok, err)
	}
}

func (f *fixture) slotsOn(t *testing.T, duration int, date calendar.Date) []string {
	t.Helper()
	avail, err := f.svc.Availability.GetAvailability(context.Background(), f.expertID.String(), &request.AvailabilityRequest{Duration: duration})
	if err != nil {
		t.Fatalf("GetAvailability should succeed: %v", err)
	}
	for _, day := range avail.Days {
		if day.Date == date.String() {
			starts := make([]string, 0, len(day.Slots))
			for _, s := range day.Slots {
				starts = append(starts, s.Start.String())
			}
			return starts
		}
	}
	return nil
}

func assertKind(t *testing.T, err error, want ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected %s error, got %q (%v)", want, got, err)
	}
}
