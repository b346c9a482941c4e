package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"expert-booking/pkg/utils"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"
)

type StripeGateway struct {
	api           *client.API
	webhookSecret string
	log           *zap.Logger
}

func NewStripeGateway(config utils.PaymentConfig, log *zap.Logger) *StripeGateway {
	return &StripeGateway{
		api:           client.New(config.SecretKey, nil),
		webhookSecret: config.WebhookSecret,
		log:           log.With(zap.String("gateway", "stripe")),
	}
}

func (g *StripeGateway) CreateCheckout(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	metadata := map[string]string{MetadataSlotKey: p.SlotID}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(p.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(p.Description),
				},
				UnitAmount: stripe.Int64(MinorUnits(p.Amount)),
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
			Metadata:      metadata,
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		ExpiresAt:  stripe.Int64(p.ExpiresAt.Unix()),
	}
	params.Context = ctx
	params.AddMetadata(MetadataSlotKey, p.SlotID)

	session, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		g.log.Error("Failed to create checkout session",
			zap.Error(err),
			zap.String("slot_id", p.SlotID),
		)
		return nil, fmt.Errorf("create checkout session for slot %s: %w", p.SlotID, err)
	}

	return &CheckoutSession{
		ID:        session.ID,
		URL:       session.URL,
		ExpiresAt: time.Unix(session.ExpiresAt, 0),
	}, nil
}

func (g *StripeGateway) Capture(ctx context.Context, paymentIntentRef string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx

	if _, err := g.api.PaymentIntents.Capture(paymentIntentRef, params); err != nil {
		return g.wrap(err, "capture payment intent", paymentIntentRef)
	}
	return nil
}

func (g *StripeGateway) CancelAuthorization(ctx context.Context, paymentIntentRef string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	if _, err := g.api.PaymentIntents.Cancel(paymentIntentRef, params); err != nil {
		return g.wrap(err, "cancel payment intent", paymentIntentRef)
	}
	return nil
}

// Refund returns the full captured amount of a payment intent.
func (g *StripeGateway) Refund(ctx context.Context, paymentIntentRef string) error {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(paymentIntentRef)}
	params.Context = ctx

	if _, err := g.api.Refunds.New(params); err != nil {
		return g.wrap(err, "refund payment intent", paymentIntentRef)
	}
	return nil
}

func (g *StripeGateway) ExpireCheckout(ctx context.Context, sessionRef string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx

	if _, err := g.api.CheckoutSessions.Expire(sessionRef, params); err != nil {
		return g.wrap(err, "expire checkout session", sessionRef)
	}
	return nil
}

// wrap maps "object is not in a state that allows this" to ErrAuthorizationClosed.
func (g *StripeGateway) wrap(err error, op, ref string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && (stripeErr.Code == stripe.ErrorCodePaymentIntentUnexpectedState ||
		stripeErr.Code == stripe.ErrorCodeChargeAlreadyRefunded) {
		g.log.Info("Provider object already closed", zap.String("operation", op), zap.String("ref", ref))
		return fmt.Errorf("%s %s: %w", op, ref, ErrAuthorizationClosed)
	}
	g.log.Error("Provider call failed", zap.Error(err), zap.String("operation", op), zap.String("ref", ref))
	return fmt.Errorf("%s %s: %w", op, ref, err)
}

func (g *StripeGateway) ParseEvent(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: event.ID, Type: string(event.Type), Kind: EventIgnored}

	switch string(event.Type) {
	case "checkout.session.completed":
		out.Kind = EventAuthorized
		err = fillFromSession(out, event.Data.Raw)
	case "checkout.session.expired", "checkout.session.async_payment_failed", "checkout.session.async_payment_expired":
		out.Kind = EventCheckoutFailed
		err = fillFromSession(out, event.Data.Raw)
	case "payment_intent.amount_capturable_updated":
		out.Kind = EventAuthorized
		err = fillFromPaymentIntent(out, event.Data.Raw)
	case "payment_intent.succeeded":
		out.Kind = EventCaptured
		err = fillFromPaymentIntent(out, event.Data.Raw)
	case "payment_intent.canceled":
		out.Kind = EventAuthorizationCanceled
		err = fillFromPaymentIntent(out, event.Data.Raw)
	case "payment_intent.payment_failed":
		out.Kind = EventCheckoutFailed
		err = fillFromPaymentIntent(out, event.Data.Raw)
	case "account.updated":
		out.Kind = EventAccountUpdated
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event %s: %w", event.Type, event.ID, err)
	}

	return out, nil
}

func fillFromSession(out *Event, raw json.RawMessage) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return err
	}
	out.SessionRef = session.ID
	out.SlotID = session.Metadata[MetadataSlotKey]
	if session.PaymentIntent != nil {
		out.PaymentIntentRef = session.PaymentIntent.ID
	}
	return nil
}

func fillFromPaymentIntent(out *Event, raw json.RawMessage) error {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return err
	}
	out.PaymentIntentRef = intent.ID
	out.SlotID = intent.Metadata[MetadataSlotKey]
	return nil
}
