package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"expert-booking/internal/calendar"
	"expert-booking/internal/data/entity"
	"expert-booking/internal/data/repository"
	"expert-booking/pkg/payment"

	"github.com/google/uuid"
)

// ── In-memory store shared by the mock repositories ──

type memStore struct {
	mu        sync.Mutex
	txMu      sync.Mutex
	experts   map[uuid.UUID]*entity.Expert
	offerings map[[2]uuid.UUID]*entity.SpecialtyOffering
	clients   map[uuid.UUID]*entity.Client
	days      map[uuid.UUID]*entity.DayAvailability
	slots     map[uuid.UUID]*entity.BookedSlot
	promos    map[string]*entity.PromoCode
}

func newMemStore() *memStore {
	return &memStore{
		experts:   make(map[uuid.UUID]*entity.Expert),
		offerings: make(map[[2]uuid.UUID]*entity.SpecialtyOffering),
		clients:   make(map[uuid.UUID]*entity.Client),
		days:      make(map[uuid.UUID]*entity.DayAvailability),
		slots:     make(map[uuid.UUID]*entity.BookedSlot),
		promos:    make(map[string]*entity.PromoCode),
	}
}

func (s *memStore) repository() *repository.Repository {
	return &repository.Repository{
		Expert:       &mockExpertRepo{s},
		Client:       &mockClientRepo{s},
		Availability: &mockAvailabilityRepo{s},
		BookedSlot:   &mockBookedSlotRepo{s},
		PromoCode:    &mockPromoCodeRepo{s},
		Tx:           &mockTransactor{store: s},
	}
}

func (s *memStore) slot(id uuid.UUID) *entity.BookedSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot, ok := s.slots[id]; ok {
		cp := *slot
		return &cp
	}
	return nil
}

func (s *memStore) day(expertID uuid.UUID, date calendar.Date) *entity.DayAvailability {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.days {
		if d.ExpertID == expertID && d.Date == date {
			cp := *d
			return &cp
		}
	}
	return nil
}

func (s *memStore) dayCount(expertID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.days {
		if d.ExpertID == expertID {
			n++
		}
	}
	return n
}

func without(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

func with(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	out := make([]uuid.UUID, 0, len(ids)+1)
	out = append(out, ids...)
	return append(out, id)
}

// ── Mock Transactor ──

// mockTransactor serializes transactions, standing in for the day row lock.
type mockTransactor struct {
	store *memStore
}

func (m *mockTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, tx *repository.Repository) error) error {
	m.store.txMu.Lock()
	defer m.store.txMu.Unlock()
	return fn(ctx, m.store.repository())
}

// ── Mock ExpertRepository ──

type mockExpertRepo struct{ s *memStore }

func (m *mockExpertRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.Expert, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if e, ok := m.s.experts[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (m *mockExpertRepo) FindOffering(_ context.Context, expertID, specialtyID uuid.UUID) (*entity.SpecialtyOffering, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if o, ok := m.s.offerings[[2]uuid.UUID{expertID, specialtyID}]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, nil
}

func (m *mockExpertRepo) UpdateWeeklySchedule(_ context.Context, id uuid.UUID, schedule calendar.WeeklySchedule) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	e, ok := m.s.experts[id]
	if !ok {
		return fmt.Errorf("expert %s not found", id)
	}
	e.WeeklySchedule = schedule
	return nil
}

func (m *mockExpertRepo) AppendBookedSlot(_ context.Context, expertID, slotID uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if e, ok := m.s.experts[expertID]; ok {
		e.BookedSlotIDs = with(e.BookedSlotIDs, slotID)
	}
	return nil
}

func (m *mockExpertRepo) RemoveBookedSlot(_ context.Context, expertID, slotID uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if e, ok := m.s.experts[expertID]; ok {
		e.BookedSlotIDs = without(e.BookedSlotIDs, slotID)
	}
	return nil
}

// ── Mock ClientRepository ──

type mockClientRepo struct{ s *memStore }

func (m *mockClientRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.Client, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if c, ok := m.s.clients[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *mockClientRepo) AppendBookedSlot(_ context.Context, clientID, slotID uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.clients[clientID]
	if !ok {
		c = &entity.Client{BaseNoDelete: entity.BaseNoDelete{ID: clientID}}
		m.s.clients[clientID] = c
	}
	c.BookedSlotIDs = with(c.BookedSlotIDs, slotID)
	return nil
}

func (m *mockClientRepo) RemoveBookedSlot(_ context.Context, clientID, slotID uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if c, ok := m.s.clients[clientID]; ok {
		c.BookedSlotIDs = without(c.BookedSlotIDs, slotID)
	}
	return nil
}

// ── Mock AvailabilityRepository ──

type mockAvailabilityRepo struct{ s *memStore }

func (m *mockAvailabilityRepo) ListByExpert(_ context.Context, expertID uuid.UUID, from, to calendar.Date) ([]*entity.DayAvailability, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*entity.DayAvailability
	for _, d := range m.s.days {
		if d.ExpertID == expertID && !d.Date.Before(from) && !d.Date.After(to) {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *mockAvailabilityRepo) find(expertID uuid.UUID, date calendar.Date) *entity.DayAvailability {
	for _, d := range m.s.days {
		if d.ExpertID == expertID && d.Date == date {
			return d
		}
	}
	return nil
}

func (m *mockAvailabilityRepo) FindByExpertAndDate(_ context.Context, expertID uuid.UUID, date calendar.Date) (*entity.DayAvailability, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if d := m.find(expertID, date); d != nil {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (m *mockAvailabilityRepo) LockByExpertAndDate(ctx context.Context, expertID uuid.UUID, date calendar.Date) (*entity.DayAvailability, error) {
	return m.FindByExpertAndDate(ctx, expertID, date)
}

func (m *mockAvailabilityRepo) InsertIfAbsent(_ context.Context, day *entity.DayAvailability) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.find(day.ExpertID, day.Date) != nil {
		return false, nil
	}
	cp := *day
	m.s.days[cp.ID] = &cp
	return true, nil
}

func (m *mockAvailabilityRepo) UpsertRanges(_ context.Context, expertID uuid.UUID, date calendar.Date, ranges []calendar.Range) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if d := m.find(expertID, date); d != nil {
		d.Ranges = ranges
		return nil
	}
	id := uuid.New()
	m.s.days[id] = &entity.DayAvailability{
		BaseNoDelete: entity.BaseNoDelete{ID: id},
		ExpertID:     expertID,
		Date:         date,
		Ranges:       ranges,
	}
	return nil
}

func (m *mockAvailabilityRepo) DeleteOutsideWindow(_ context.Context, expertID uuid.UUID, from, to calendar.Date) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for id, d := range m.s.days {
		if d.ExpertID == expertID && (d.Date.Before(from) || d.Date.After(to)) {
			delete(m.s.days, id)
			n++
		}
	}
	return n, nil
}

func (m *mockAvailabilityRepo) DeleteDuplicates(_ context.Context, _ uuid.UUID) (int64, error) {
	return 0, nil
}

func (m *mockAvailabilityRepo) DeleteIfUnreferenced(_ context.Context, expertID uuid.UUID, date calendar.Date) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	d := m.find(expertID, date)
	if d == nil || len(d.BookedSlotIDs) > 0 {
		return false, nil
	}
	delete(m.s.days, d.ID)
	return true, nil
}

func (m *mockAvailabilityRepo) AppendSlotRef(_ context.Context, dayID, slotID uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	d, ok := m.s.days[dayID]
	if !ok {
		return fmt.Errorf("day availability %s not found", dayID)
	}
	d.BookedSlotIDs = append(append([]uuid.UUID{}, d.BookedSlotIDs...), slotID)
	return nil
}

func (m *mockAvailabilityRepo) RemoveSlotRef(_ context.Context, expertID uuid.UUID, date calendar.Date, slotID uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if d := m.find(expertID, date); d != nil {
		d.BookedSlotIDs = without(d.BookedSlotIDs, slotID)
	}
	return nil
}

// ── Mock BookedSlotRepository ──

type mockBookedSlotRepo struct{ s *memStore }

func (m *mockBookedSlotRepo) Create(_ context.Context, slot *entity.BookedSlot) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *slot
	m.s.slots[slot.ID] = &cp
	return nil
}

func (m *mockBookedSlotRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.BookedSlot, error) {
	return m.s.slot(id), nil
}

func (m *mockBookedSlotRepo) FindByIDs(_ context.Context, ids []uuid.UUID) ([]*entity.BookedSlot, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*entity.BookedSlot
	for _, id := range ids {
		if slot, ok := m.s.slots[id]; ok {
			cp := *slot
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockBookedSlotRepo) FindByCheckoutSession(_ context.Context, sessionRef string) (*entity.BookedSlot, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, slot := range m.s.slots {
		if slot.CheckoutSessionRef != nil && *slot.CheckoutSessionRef == sessionRef {
			cp := *slot
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockBookedSlotRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.slots[id]; !ok {
		return fmt.Errorf("booked slot %s not found", id)
	}
	delete(m.s.slots, id)
	return nil
}

// update applies fn to the slot when cond holds, like a conditional UPDATE.
func (m *mockBookedSlotRepo) update(id uuid.UUID, cond func(*entity.BookedSlot) bool, fn func(*entity.BookedSlot)) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	slot, ok := m.s.slots[id]
	if !ok || !cond(slot) {
		return false, nil
	}
	fn(slot)
	return true, nil
}

func unauthorized(s *entity.BookedSlot) bool {
	return !s.Cancel && !s.Paid && !s.Authorized && s.AuthorizedAt == nil
}

func (m *mockBookedSlotRepo) MarkCheckoutStarted(_ context.Context, id uuid.UUID, c repository.CheckoutUpdate) (bool, error) {
	return m.update(id, func(s *entity.BookedSlot) bool {
		return unauthorized(s) && s.CheckoutSessionRef == nil && s.HoldExpiresAt != nil && s.HoldExpiresAt.After(c.Now)
	}, func(s *entity.BookedSlot) {
		ref, url, until, due := c.SessionRef, c.URL, c.HoldUntil, c.AmountDue
		s.CheckoutSessionRef, s.CheckoutURL, s.HoldExpiresAt, s.AmountDue = &ref, &url, &until, &due
		s.PromoCode = c.PromoCode
	})
}

func (m *mockBookedSlotRepo) MarkAuthorized(_ context.Context, id uuid.UUID, ref string, authorizedAt, captureAt time.Time) (bool, error) {
	return m.update(id, unauthorized, func(s *entity.BookedSlot) {
		s.Authorized = true
		s.PaymentIntentRef, s.AuthorizedAt, s.CaptureScheduledFor = &ref, &authorizedAt, &captureAt
		s.HoldExpiresAt = nil
	})
}

func (m *mockBookedSlotRepo) MarkCaptured(_ context.Context, id uuid.UUID, capturedAt time.Time) (bool, error) {
	return m.update(id, func(s *entity.BookedSlot) bool {
		return !s.Cancel && !s.Paid && (s.Authorized || s.AuthorizedAt == nil)
	}, func(s *entity.BookedSlot) {
		s.Paid, s.CapturedAt, s.HoldExpiresAt = true, &capturedAt, nil
	})
}

func (m *mockBookedSlotRepo) MarkVoided(_ context.Context, id uuid.UUID) (bool, error) {
	return m.update(id, func(s *entity.BookedSlot) bool {
		return s.Authorized && !s.Paid
	}, func(s *entity.BookedSlot) {
		s.Authorized, s.PaymentIntentRef, s.CaptureScheduledFor = false, nil, nil
	})
}

func (m *mockBookedSlotRepo) MarkPaymentFailed(_ context.Context, id uuid.UUID) (bool, error) {
	return m.update(id, unauthorized, func(s *entity.BookedSlot) { s.Cancel = true })
}

func (m *mockBookedSlotRepo) Cancel(_ context.Context, id uuid.UUID) (*repository.PriorPayment, error) {
	var prior *repository.PriorPayment
	_, err := m.update(id, func(s *entity.BookedSlot) bool { return !s.Cancel }, func(s *entity.BookedSlot) {
		prior = &repository.PriorPayment{Authorized: s.Authorized, Paid: s.Paid, PaymentIntentRef: s.PaymentIntentRef}
		s.Cancel, s.Authorized, s.CaptureScheduledFor = true, false, nil
	})
	return prior, err
}

func (m *mockBookedSlotRepo) FindDueForCapture(_ context.Context, now time.Time, limit int) ([]*entity.BookedSlot, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*entity.BookedSlot
	for _, s := range m.s.slots {
		if s.Authorized && !s.Paid && !s.Cancel && s.CaptureScheduledFor != nil && !s.CaptureScheduledFor.After(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockBookedSlotRepo) FindNotEnded(_ context.Context, upTo calendar.Date, limit int) ([]*entity.BookedSlot, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*entity.BookedSlot
	for _, s := range m.s.slots {
		if !s.Ended && !s.Date.After(upTo) {
			cp := *s
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockBookedSlotRepo) MarkEnded(_ context.Context, id uuid.UUID) (bool, error) {
	return m.update(id, func(s *entity.BookedSlot) bool { return !s.Ended }, func(s *entity.BookedSlot) { s.Ended = true })
}

func (m *mockBookedSlotRepo) ClaimConfirmationNotice(_ context.Context, id uuid.UUID) (bool, error) {
	return m.update(id, func(s *entity.BookedSlot) bool { return !s.EmailConfirmationSent }, func(s *entity.BookedSlot) {
		s.EmailConfirmationSent, s.ExpertNotificationSent = true, true
	})
}

func (m *mockBookedSlotRepo) ClaimEndedNotice(_ context.Context, id uuid.UUID) (bool, error) {
	return m.update(id, func(s *entity.BookedSlot) bool { return !s.EmailEndedSent }, func(s *entity.BookedSlot) {
		s.EmailEndedSent = true
	})
}

// ── Mock PromoCodeRepository ──

type mockPromoCodeRepo struct{ s *memStore }

func (m *mockPromoCodeRepo) FindByCode(_ context.Context, code string) (*entity.PromoCode, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if p, ok := m.s.promos[code]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *mockPromoCodeRepo) Reserve(_ context.Context, code string, slotID uuid.UUID, until, now time.Time) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.promos[code]
	if !ok || !p.Active || p.Used || !p.InWindow(now) || p.ReservedByOther(slotID, now) {
		return false, nil
	}
	p.ReservedBy, p.ReservedUntil = &slotID, &until
	return true, nil
}

func (m *mockPromoCodeRepo) HoldUntilCapture(_ context.Context, code string, slotID uuid.UUID, now time.Time) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.promos[code]
	if !ok || p.Used || p.ReservedByOther(slotID, now) {
		return false, nil
	}
	p.ReservedBy, p.ReservedUntil = &slotID, nil
	return true, nil
}

func (m *mockPromoCodeRepo) Release(_ context.Context, code string, slotID uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if p, ok := m.s.promos[code]; ok && p.ReservedBy != nil && *p.ReservedBy == slotID {
		p.ReservedBy, p.ReservedUntil = nil, nil
	}
	return nil
}

func (m *mockPromoCodeRepo) Consume(_ context.Context, code string, slotID uuid.UUID) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.promos[code]
	if !ok || p.Used || (p.ReservedBy != nil && *p.ReservedBy != slotID) {
		return false, nil
	}
	p.Used = p.Used || p.SingleUse
	p.ReservedBy, p.ReservedUntil = nil, nil
	return true, nil
}

// ── Mock PaymentGateway ──

type mockGateway struct {
	mu          sync.Mutex
	checkouts   []payment.CheckoutParams
	captures    []string
	cancels     []string
	refunds     []string
	expired     []string
	checkoutErr error
	captureErr  map[string]error
	cancelErr   error
	events      map[string]*payment.Event
	sessionSeq  int
	// onExpire runs after ExpireCheckout is recorded, outside the gateway lock.
	onExpire func(sessionRef string)
}

func newMockGateway() *mockGateway {
	return &mockGateway{captureErr: make(map[string]error), events: make(map[string]*payment.Event)}
}

func (m *mockGateway) CreateCheckout(_ context.Context, p payment.CheckoutParams) (*payment.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkouts = append(m.checkouts, p)
	if m.checkoutErr != nil {
		return nil, m.checkoutErr
	}
	m.sessionSeq++
	id := fmt.Sprintf("cs_test_%d", m.sessionSeq)
	return &payment.CheckoutSession{ID: id, URL: "https://pay.test/" + id, ExpiresAt: p.ExpiresAt}, nil
}

func (m *mockGateway) Capture(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures = append(m.captures, ref)
	return m.captureErr[ref]
}

func (m *mockGateway) CancelAuthorization(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels = append(m.cancels, ref)
	return m.cancelErr
}

func (m *mockGateway) Refund(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds = append(m.refunds, ref)
	return nil
}

func (m *mockGateway) ExpireCheckout(_ context.Context, ref string) error {
	m.mu.Lock()
	m.expired = append(m.expired, ref)
	hook := m.onExpire
	m.mu.Unlock()
	if hook != nil {
		hook(ref)
	}
	return nil
}

func (m *mockGateway) ParseEvent(payload []byte, signature string) (*payment.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if signature != "valid" {
		return nil, payment.ErrInvalidSignature
	}
	event, ok := m.events[string(payload)]
	if !ok {
		return nil, errors.New("unknown payload")
	}
	cp := *event
	return &cp, nil
}

func (m *mockGateway) cancelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancels)
}

// ── Mock Publisher ──

type mockPublisher struct {
	mu     sync.Mutex
	events []string
}

func (m *mockPublisher) PublishJSON(_ context.Context, key string, _ any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, key)
	return nil
}

func (m *mockPublisher) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e == key {
			n++
		}
	}
	return n
}

// ── Mock EventDeduper ──

type mockDeduper struct {
	mu     sync.Mutex
	ttl    map[string]time.Duration
	claims []time.Duration
}

func newMockDeduper() *mockDeduper {
	return &mockDeduper{ttl: make(map[string]time.Duration)}
}

func (m *mockDeduper) Claim(_ context.Context, id string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ttl[id]; ok {
		return false, nil
	}
	m.ttl[id] = ttl
	m.claims = append(m.claims, ttl)
	return true, nil
}

func (m *mockDeduper) Confirm(_ context.Context, id string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttl[id] = ttl
	return nil
}

func (m *mockDeduper) Release(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ttl, id)
	return nil
}

// held reports the TTL of a remembered event id.
func (m *mockDeduper) held(id string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ttl, ok := m.ttl[id]
	return ttl, ok
}

// ── Fake clock ──

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
