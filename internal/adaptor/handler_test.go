package adaptor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"expert-booking/internal/dto/request"
	"expert-booking/internal/dto/response"
	"expert-booking/internal/usecase"
	"expert-booking/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ═══════════════════════════════════════════════════════════
// Mock Services
// ═══════════════════════════════════════════════════════════

// ── Mock AvailabilityService ──

type mockAvailabilityService struct {
	gotExpertID string
	gotReq      *request.AvailabilityRequest
	result      *response.AvailabilityResponse
	err         error

	gotPrincipal utils.Principal
	scheduleRes  *response.WeeklyScheduleResponse
	scheduleErr  error
}

func (m *mockAvailabilityService) Materialize(_ context.Context, _ uuid.UUID) error { return nil }
func (m *mockAvailabilityService) GetAvailability(_ context.Context, expertID string, req *request.AvailabilityRequest) (*response.AvailabilityResponse, error) {
	m.gotExpertID, m.gotReq = expertID, req
	return m.result, m.err
}
func (m *mockAvailabilityService) UpdateWeeklySchedule(_ context.Context, p utils.Principal, expertID string, _ *request.UpdateWeeklyScheduleRequest) (*response.WeeklyScheduleResponse, error) {
	m.gotPrincipal, m.gotExpertID = p, expertID
	return m.scheduleRes, m.scheduleErr
}

// ── Mock BookingService ──

type mockBookingService struct {
	calls       int
	gotClientID string
	gotSlotID   string
	gotPage     *request.PaginatedRequest
	slot        *response.BookedSlotResponse
	list        *response.PaginatedResponse[response.BookedSlotResponse]
	err         error
}

func (m *mockBookingService) BookSlot(_ context.Context, clientID string, _ *request.CreateBookingRequest) (*response.BookedSlotResponse, error) {
	m.calls++
	m.gotClientID = clientID
	return m.slot, m.err
}
func (m *mockBookingService) ListClientBookings(_ context.Context, clientID string, req *request.PaginatedRequest) (*response.PaginatedResponse[response.BookedSlotResponse], error) {
	m.gotClientID, m.gotPage = clientID, req
	return m.list, m.err
}
func (m *mockBookingService) ListExpertBookings(_ context.Context, _ string, req *request.PaginatedRequest) (*response.PaginatedResponse[response.BookedSlotResponse], error) {
	m.gotPage = req
	return m.list, m.err
}
func (m *mockBookingService) GetSlot(_ context.Context, _ utils.Principal, slotID string) (*response.BookedSlotResponse, error) {
	m.gotSlotID = slotID
	return m.slot, m.err
}
func (m *mockBookingService) GetSlotByCheckoutSession(_ context.Context, _ utils.Principal, sessionID string) (*response.BookedSlotResponse, error) {
	m.gotSlotID = sessionID
	return m.slot, m.err
}
func (m *mockBookingService) CancelAppointment(_ context.Context, _ utils.Principal, slotID string) (*response.BookedSlotResponse, error) {
	m.gotSlotID = slotID
	return m.slot, m.err
}
func (m *mockBookingService) DeleteBookedSlot(_ context.Context, slotID string) error {
	m.gotSlotID = slotID
	return m.err
}
func (m *mockBookingService) MarkEndedAppointments(_ context.Context) (int, error) { return 0, nil }

// ── Mock PaymentService ──

type mockPaymentService struct {
	gotReq       *request.CheckoutRequest
	gotPayload   []byte
	gotSignature string
	checkout     *response.CheckoutResponse
	err          error
}

func (m *mockPaymentService) StartCheckout(_ context.Context, _ utils.Principal, _ string, req *request.CheckoutRequest) (*response.CheckoutResponse, error) {
	m.gotReq = req
	return m.checkout, m.err
}
func (m *mockPaymentService) HandleWebhook(_ context.Context, payload []byte, signature string) error {
	m.gotPayload, m.gotSignature = payload, signature
	return m.err
}

// ═══════════════════════════════════════════════════════════
// Test Helpers
// ═══════════════════════════════════════════════════════════

var clientPrincipal = utils.Principal{ID: uuid.MustParse("11111111-1111-1111-1111-111111111111"), Role: utils.RoleClient}

func jsonBody(v any) io.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) utils.Response {
	t.Helper()
	var resp utils.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
	return resp
}

// serve routes one request through a chi router, optionally as an authenticated caller.
func serve(method, pattern, target string, body io.Reader, handler http.HandlerFunc, principal *utils.Principal) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Method(method, pattern, handler)

	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")
	if principal != nil {
		req = req.WithContext(utils.SetPrincipal(req.Context(), *principal))
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func validBooking() request.CreateBookingRequest {
	return request.CreateBookingRequest{
		ExpertID:    uuid.NewString(),
		SpecialtyID: uuid.NewString(),
		Date:        "2024-06-10",
		Start:       "09:00",
		Duration:    60,
	}
}

// ═══════════════════════════════════════════════════════════
// Error mapping
// ═══════════════════════════════════════════════════════════

func TestHandleServiceError_StatusByKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", usecase.NewValidationError("bad input"), http.StatusBadRequest},
		{"not found", usecase.NewNotFoundError("slot missing"), http.StatusNotFound},
		{"conflict", usecase.NewConflictError("09:00-10:00 conflicts"), http.StatusConflict},
		{"authorization", usecase.NewAuthorizationError("not yours"), http.StatusForbidden},
		{"upstream", usecase.NewUpstreamPaymentError(errors.New("card_declined"), "capture failed"), http.StatusInternalServerError},
		{"internal", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			errorResponder{log: zap.NewNop()}.handleServiceError(w, tt.err, "test")
			if w.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, w.Code)
			}
			if resp := parseResponse(t, w); resp.Status {
				t.Error("expected status false")
			}
		})
	}
}

func TestHandleServiceError_HidesInternalDetails(t *testing.T) {
	w := httptest.NewRecorder()
	errorResponder{log: zap.NewNop()}.handleServiceError(w, errors.New("pq: password authentication failed"), "test")

	if strings.Contains(w.Body.String(), "password") {
		t.Errorf("internal error leaked into response: %s", w.Body.String())
	}
}

// ═══════════════════════════════════════════════════════════
// AvailabilityHandler Tests
// ═══════════════════════════════════════════════════════════

func TestAvailabilityHandler_GetAvailability_ParsesQuery(t *testing.T) {
	mock := &mockAvailabilityService{result: &response.AvailabilityResponse{Duration: 30}}
	h := NewAvailabilityHandler(mock, zap.NewNop())
	expertID := uuid.NewString()
	specialtyID := uuid.NewString()

	w := serve(http.MethodGet, "/api/availability/{expertId}",
		"/api/availability/"+expertID+"?duration=30&specialtyId="+specialtyID, nil, h.GetAvailability, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if mock.gotExpertID != expertID {
		t.Errorf("expected expert %s, got %s", expertID, mock.gotExpertID)
	}
	if mock.gotReq.Duration != 30 || mock.gotReq.SpecialtyID != specialtyID {
		t.Errorf("unexpected request %+v", mock.gotReq)
	}
}

func TestAvailabilityHandler_GetAvailability_RejectsUnsupportedDuration(t *testing.T) {
	mock := &mockAvailabilityService{}
	h := NewAvailabilityHandler(mock, zap.NewNop())

	w := serve(http.MethodGet, "/api/availability/{expertId}",
		"/api/availability/"+uuid.NewString()+"?duration=20", nil, h.GetAvailability, nil)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if mock.gotReq != nil {
		t.Error("service must not be called for invalid input")
	}
}

func TestAvailabilityHandler_UpdateWeeklySchedule(t *testing.T) {
	expert := utils.Principal{ID: uuid.New(), Role: utils.RoleExpert}
	mock := &mockAvailabilityService{scheduleRes: &response.WeeklyScheduleResponse{ExpertID: expert.ID.String()}}
	h := NewAvailabilityHandler(mock, zap.NewNop())

	body := strings.NewReader(`{"weekly_schedule":{"mon":[{"start":"09:00","end":"12:00"}]}}`)
	w := serve(http.MethodPatch, "/api/experts/{id}/weekly-schedule",
		"/api/experts/"+expert.ID.String()+"/weekly-schedule", body, h.UpdateWeeklySchedule, &expert)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if mock.gotPrincipal != expert {
		t.Errorf("expected principal %+v, got %+v", expert, mock.gotPrincipal)
	}
}

func TestAvailabilityHandler_UpdateWeeklySchedule_Forbidden(t *testing.T) {
	mock := &mockAvailabilityService{scheduleErr: usecase.NewAuthorizationError("only the expert can edit this schedule")}
	h := NewAvailabilityHandler(mock, zap.NewNop())

	w := serve(http.MethodPatch, "/api/experts/{id}/weekly-schedule",
		"/api/experts/"+uuid.NewString()+"/weekly-schedule", strings.NewReader(`{"weekly_schedule":{}}`),
		h.UpdateWeeklySchedule, &clientPrincipal)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

// ═══════════════════════════════════════════════════════════
// BookingHandler Tests
// ═══════════════════════════════════════════════════════════

func TestBookingHandler_BookSlot_Success(t *testing.T) {
	mock := &mockBookingService{slot: &response.BookedSlotResponse{ID: uuid.NewString(), State: "held"}}
	h := NewBookingHandler(mock, zap.NewNop())

	w := serve(http.MethodPost, "/api/bookings", "/api/bookings", jsonBody(validBooking()), h.BookSlot, &clientPrincipal)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if mock.gotClientID != clientPrincipal.ID.String() {
		t.Errorf("expected client %s, got %s", clientPrincipal.ID, mock.gotClientID)
	}
	if resp := parseResponse(t, w); !resp.Status {
		t.Error("expected status true")
	}
}

func TestBookingHandler_BookSlot_RequiresPrincipal(t *testing.T) {
	mock := &mockBookingService{}
	h := NewBookingHandler(mock, zap.NewNop())

	w := serve(http.MethodPost, "/api/bookings", "/api/bookings", jsonBody(validBooking()), h.BookSlot, nil)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if mock.calls != 0 {
		t.Error("service must not be called without a principal")
	}
}

func TestBookingHandler_BookSlot_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body io.Reader
	}{
		{"bad json", strings.NewReader("{not json")},
		{"odd duration", jsonBody(func() request.CreateBookingRequest { b := validBooking(); b.Duration = 20; return b }())},
		{"bad date", jsonBody(func() request.CreateBookingRequest { b := validBooking(); b.Date = "10/06/2024"; return b }())},
		{"bad expert id", jsonBody(func() request.CreateBookingRequest { b := validBooking(); b.ExpertID = "nope"; return b }())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockBookingService{}
			h := NewBookingHandler(mock, zap.NewNop())

			w := serve(http.MethodPost, "/api/bookings", "/api/bookings", tt.body, h.BookSlot, &clientPrincipal)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
			if mock.calls != 0 {
				t.Error("service must not be called for invalid input")
			}
		})
	}
}

func TestBookingHandler_BookSlot_Conflict(t *testing.T) {
	mock := &mockBookingService{err: usecase.NewConflictError("09:00-10:00 conflicts with booked slot 09:30-10:30")}
	h := NewBookingHandler(mock, zap.NewNop())

	w := serve(http.MethodPost, "/api/bookings", "/api/bookings", jsonBody(validBooking()), h.BookSlot, &clientPrincipal)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if resp := parseResponse(t, w); !strings.Contains(resp.Message, "conflicts with booked slot") {
		t.Errorf("unexpected message %q", resp.Message)
	}
}

func TestBookingHandler_ListClientBookings_Pagination(t *testing.T) {
	mock := &mockBookingService{list: response.NewPaginatedResponse([]response.BookedSlotResponse{}, 2, 5, 0)}
	h := NewBookingHandler(mock, zap.NewNop())

	w := serve(http.MethodGet, "/api/client/bookings", "/api/client/bookings?page=2&per_page=5", nil, h.ListClientBookings, &clientPrincipal)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if mock.gotPage.Page != 2 || mock.gotPage.PerPage != 5 {
		t.Errorf("unexpected pagination %+v", mock.gotPage)
	}
}

func TestBookingHandler_GetSlot_NotFound(t *testing.T) {
	mock := &mockBookingService{err: usecase.NewNotFoundError("slot not found")}
	h := NewBookingHandler(mock, zap.NewNop())
	slotID := uuid.NewString()

	w := serve(http.MethodGet, "/api/bookings/{slotId}", "/api/bookings/"+slotID, nil, h.GetSlot, &clientPrincipal)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if mock.gotSlotID != slotID {
		t.Errorf("expected slot %s, got %s", slotID, mock.gotSlotID)
	}
}

func TestBookingHandler_CancelAppointment(t *testing.T) {
	mock := &mockBookingService{slot: &response.BookedSlotResponse{State: "cancelled", Cancel: true}}
	h := NewBookingHandler(mock, zap.NewNop())

	w := serve(http.MethodPost, "/api/bookings/{slotId}/cancel", "/api/bookings/"+uuid.NewString()+"/cancel", nil, h.CancelAppointment, &clientPrincipal)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestBookingHandler_DeleteBookedSlot(t *testing.T) {
	mock := &mockBookingService{}
	h := NewBookingHandler(mock, zap.NewNop())
	admin := utils.Principal{ID: uuid.New(), Role: utils.RoleAdmin}
	slotID := uuid.NewString()

	w := serve(http.MethodDelete, "/api/bookings/{slotId}", "/api/bookings/"+slotID, nil, h.DeleteBookedSlot, &admin)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if mock.gotSlotID != slotID {
		t.Errorf("expected slot %s, got %s", slotID, mock.gotSlotID)
	}
}

// ═══════════════════════════════════════════════════════════
// PaymentHandler Tests
// ═══════════════════════════════════════════════════════════

func TestPaymentHandler_StartCheckout_EmptyBody(t *testing.T) {
	mock := &mockPaymentService{checkout: &response.CheckoutResponse{URL: "https://checkout.example/cs_1"}}
	h := NewPaymentHandler(mock, zap.NewNop())

	w := serve(http.MethodPost, "/api/bookings/{slotId}/checkout", "/api/bookings/"+uuid.NewString()+"/checkout",
		http.NoBody, h.StartCheckout, &clientPrincipal)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if mock.gotReq == nil || mock.gotReq.PromoCode != nil {
		t.Errorf("expected empty checkout request, got %+v", mock.gotReq)
	}
}

func TestPaymentHandler_StartCheckout_UpstreamFailure(t *testing.T) {
	mock := &mockPaymentService{err: usecase.NewUpstreamPaymentError(errors.New("api down"), "create checkout session")}
	h := NewPaymentHandler(mock, zap.NewNop())

	w := serve(http.MethodPost, "/api/bookings/{slotId}/checkout", "/api/bookings/"+uuid.NewString()+"/checkout",
		jsonBody(request.CheckoutRequest{}), h.StartCheckout, &clientPrincipal)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestPaymentHandler_Webhook_PassesRawBody(t *testing.T) {
	mock := &mockPaymentService{}
	h := NewPaymentHandler(mock, zap.NewNop())
	payload := `{"id":"evt_1","type":"payment_intent.amount_capturable_updated"}`

	r := chi.NewRouter()
	r.Post("/api/payments/webhook", h.Webhook)
	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if string(mock.gotPayload) != payload {
		t.Errorf("payload altered: %s", mock.gotPayload)
	}
	if mock.gotSignature != "t=1,v1=abc" {
		t.Errorf("expected signature header, got %q", mock.gotSignature)
	}
}

func TestPaymentHandler_Webhook_BadSignature(t *testing.T) {
	mock := &mockPaymentService{err: usecase.NewValidationError("invalid webhook signature")}
	h := NewPaymentHandler(mock, zap.NewNop())

	w := serve(http.MethodPost, "/api/payments/webhook", "/api/payments/webhook", strings.NewReader("{}"), h.Webhook, nil)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
