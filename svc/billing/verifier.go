package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotakit/pkg/audit"
	"github.com/dmitrymomot/quotakit/pkg/gateway"
	"github.com/dmitrymomot/quotakit/pkg/logger"
	"github.com/dmitrymomot/quotakit/pkg/ratelimiter"
	"github.com/dmitrymomot/quotakit/pkg/tier"
)

// Order metadata keys written at order creation and checked at verification.
const (
	NoteTenantID = "tenant_id"
	NoteTier     = "tier"
	NoteCycle    = "cycle"
	NoteEmail    = "email"
)

// Placeholder profile values used when the directory lookup fails.
const (
	placeholderEmail = "customer@example.invalid"
	placeholderName  = "Customer"
)

// Audit actions.
const (
	ActionPaymentVerified = "payment.verified"
	ActionPaymentRejected = "payment.rejected"
	ActionOrderCreated    = "order.created"
)

// Verification checks, in execution order. Used as the failed_check audit
// field and metrics label.
const (
	CheckSignature  = "signature"
	CheckOwnership  = "ownership"
	CheckCapture    = "capture"
	CheckAmount     = "amount"
	CheckDuplicate  = "duplicate"
	CheckSettlement = "settlement"
	CheckGateway    = "gateway"
)

// OrderHandle is returned to the client to open the gateway checkout.
type OrderHandle struct {
	OrderRef string     `json:"order_id"`
	KeyID    string     `json:"key_id,omitempty"`
	Amount   int64      `json:"amount"`
	Currency string     `json:"currency"`
	Tier     tier.Tier  `json:"tier"`
	Cycle    tier.Cycle `json:"cycle"`
	Receipt  string     `json:"receipt"`
	Email    string     `json:"email"`
	Name     string     `json:"name"`
}

// Verifier creates gateway orders and settles completed checkouts.
type Verifier struct {
	store     Store
	gw        gateway.Gateway
	catalog   *tier.Catalog
	keySecret string
	keyID     string
	lifecycle *Lifecycle
	limiter   *ratelimiter.Bucket
	directory Directory
	audit     *audit.Logger
	metrics   *Metrics
	log       *slog.Logger
	now       func() time.Time
}

// NewVerifier creates a Verifier. keySecret signs checkout responses.
func NewVerifier(store Store, gw gateway.Gateway, catalog *tier.Catalog, keySecret string, opts ...Option) (*Verifier, error) {
	if store == nil || gw == nil || catalog == nil {
		return nil, fmt.Errorf("%w: store, gateway and catalog are required", ErrInvalidConfig)
	}
	if keySecret == "" {
		return nil, fmt.Errorf("%w: gateway key secret is required", ErrInvalidConfig)
	}
	o := newOptions(opts)
	return &Verifier{
		store:     store,
		gw:        gw,
		catalog:   catalog,
		keySecret: keySecret,
		keyID:     o.keyID,
		lifecycle: o.lifecycle,
		limiter:   o.orderLimiter,
		directory: o.directory,
		audit:     o.audit,
		metrics:   o.metrics,
		log:       o.log.With(logger.Component("payment_verifier")),
		now:       o.now,
	}, nil
}

// CreateOrder opens a gateway order for a paid tier. The tenant id is
// stored in the order notes so verification can check ownership.
func (v *Verifier) CreateOrder(ctx context.Context, tenantID uuid.UUID, t tier.Tier, c tier.Cycle) (*OrderHandle, error) {
	if tenantID == uuid.Nil {
		return nil, ErrTenantRequired
	}
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, t)
	}
	if t == tier.Free {
		return nil, ErrFreeTierOrder
	}
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCycle, c)
	}
	if err := v.throttle(ctx, tenantID); err != nil {
		return nil, err
	}

	plan, err := v.catalog.Plan(t)
	if err != nil {
		return nil, errors.Join(ErrUnknownTier, err)
	}
	email, name := v.profile(ctx, tenantID)
	receipt := "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]

	order, err := v.gw.CreateOrder(ctx, gateway.OrderRequest{
		Amount:   plan.Price(c),
		Currency: plan.Currency,
		Receipt:  receipt,
		Notes: gateway.Notes{
			NoteTenantID: tenantID.String(),
			NoteTier:     t.String(),
			NoteCycle:    c.String(),
			NoteEmail:    email,
		},
	})
	if err != nil {
		v.log.ErrorContext(ctx, "create order failed", logger.TenantID(tenantID), logger.Error(err))
		return nil, errors.Join(ErrGatewayUnavailable, err)
	}

	v.record(ctx, ActionOrderCreated, tenantID, nil,
		audit.WithResource("order", order.ID),
		audit.WithMetadata("tier", t.String()),
		audit.WithMetadata("cycle", c.String()),
		audit.WithMetadata("amount", order.Amount),
	)
	return &OrderHandle{
		OrderRef: order.ID,
		KeyID:    v.keyID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Tier:     t,
		Cycle:    c,
		Receipt:  receipt,
		Email:    email,
		Name:     name,
	}, nil
}

func (v *Verifier) throttle(ctx context.Context, tenantID uuid.UUID) error {
	if v.limiter == nil {
		return nil
	}
	res, err := v.limiter.Allow(ctx, "order:"+tenantID.String())
	if err != nil {
		v.log.WarnContext(ctx, "order limiter unavailable, allowing", logger.TenantID(tenantID), logger.Error(err))
		return nil
	}
	if !res.Allowed() {
		return &RateLimitedError{RetryAfter: res.RetryAfter()}
	}
	return nil
}

func (v *Verifier) profile(ctx context.Context, tenantID uuid.UUID) (string, string) {
	if v.directory == nil {
		return placeholderEmail, placeholderName
	}
	email, name, err := v.directory.Lookup(ctx, tenantID)
	if err != nil {
		v.log.WarnContext(ctx, "profile lookup failed, using placeholders", logger.TenantID(tenantID), logger.Error(err))
		return placeholderEmail, placeholderName
	}
	if email == "" {
		email = placeholderEmail
	}
	if name == "" {
		name = placeholderName
	}
	return email, name
}

// VerifyPayment settles a completed checkout for the authenticated tenant.
// Checks run in order and the first failure aborts with no mutation:
// signature, ownership, capture, amount, duplicate, then the subscription
// mutation inside a savepoint.
func (v *Verifier) VerifyPayment(ctx context.Context, tenantID uuid.UUID, orderRef, paymentRef, signature string) (*Snapshot, error) {
	if tenantID == uuid.Nil {
		return nil, ErrTenantRequired
	}
	if orderRef == "" || paymentRef == "" {
		return nil, ErrMissingReference
	}
	log := v.log.With(logger.TenantID(tenantID), logger.OrderRef(orderRef), logger.PaymentRef(paymentRef))

	if err := gateway.VerifyPaymentSignature(v.keySecret, orderRef, paymentRef, signature); err != nil {
		log.WarnContext(ctx, "payment signature mismatch", logger.Event("security"))
		return nil, v.reject(ctx, tenantID, orderRef, paymentRef, CheckSignature, errors.Join(ErrSignatureMismatch, err))
	}

	order, err := v.gw.FetchOrder(ctx, orderRef)
	if err != nil {
		return nil, v.reject(ctx, tenantID, orderRef, paymentRef, CheckGateway, gatewayError(err, ErrOrderNotFound))
	}
	if order.Notes[NoteTenantID] != tenantID.String() {
		log.WarnContext(ctx, "order ownership mismatch", logger.Event("security"), slog.String("order_tenant", order.Notes[NoteTenantID]))
		return nil, v.reject(ctx, tenantID, orderRef, paymentRef, CheckOwnership, ErrOwnershipMismatch)
	}

	payment, err := v.gw.FetchPayment(ctx, paymentRef)
	if err != nil {
		return nil, v.reject(ctx, tenantID, orderRef, paymentRef, CheckGateway, gatewayError(err, ErrPaymentNotCaptured))
	}
	if payment.OrderID != order.ID {
		log.WarnContext(ctx, "payment belongs to another order", logger.Event("security"), slog.String("payment_order", payment.OrderID))
		return nil, v.reject(ctx, tenantID, orderRef, paymentRef, CheckOwnership, ErrOwnershipMismatch)
	}
	if !payment.Settled() {
		return nil, v.reject(ctx, tenantID, orderRef, paymentRef, CheckCapture,
			fmt.Errorf("%w: status %q", ErrPaymentNotCaptured, payment.Status))
	}

	charge, amount, err := v.expectedCharge(order)
	if err != nil {
		return nil, v.reject(ctx, tenantID, orderRef, paymentRef, CheckAmount, err)
	}
	if payment.Amount != amount || order.Amount != amount || !strings.EqualFold(payment.Currency, order.Currency) {
		return nil, v.reject(ctx, tenantID, orderRef, paymentRef, CheckAmount,
			fmt.Errorf("%w: paid %d %s, expected %d %s", ErrAmountMismatch, payment.Amount, payment.Currency, amount, order.Currency))
	}

	recorded, err := v.store.PaymentRecorded(ctx, paymentRef)
	if err != nil {
		return nil, v.reject(ctx, tenantID, orderRef, paymentRef, CheckDuplicate, err)
	}
	if recorded {
		return nil, v.reject(ctx, tenantID, orderRef, paymentRef, CheckDuplicate, ErrDuplicatePayment)
	}

	charge.OrderRef = order.ID
	charge.PaymentRef = payment.ID
	var settled *Subscription
	var kind ChargeKind
	err = v.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Savepoint(ctx, func(ctx context.Context) error {
			var serr error
			settled, kind, serr = v.settle(ctx, tx, tenantID, charge, v.now().UTC(), Payment{
				PaymentRef: payment.ID,
				OrderRef:   order.ID,
				TenantID:   tenantID,
				Amount:     payment.Amount,
				Currency:   payment.Currency,
				Source:     SourceVerify,
			})
			return serr
		})
	})
	if err != nil {
		check := CheckSettlement
		if errors.Is(err, ErrDuplicatePayment) {
			check = CheckDuplicate
		}
		return nil, v.reject(ctx, tenantID, orderRef, paymentRef, check, err)
	}

	v.metrics.verification("success", "")
	v.record(ctx, ActionPaymentVerified, tenantID, nil,
		audit.WithResource("payment", paymentRef),
		audit.WithMetadata("order_ref", orderRef),
		audit.WithMetadata("tier", charge.Tier.String()),
		audit.WithMetadata("charge_kind", string(kind)),
	)
	log.InfoContext(ctx, "payment verified", logger.Tier(charge.Tier.String()), slog.String("charge_kind", string(kind)))

	snap := NewSnapshot(settled, v.catalog)
	return &snap, nil
}

// expectedCharge reads tier and cycle from the order notes written at
// creation and returns the catalog price for them.
func (v *Verifier) expectedCharge(order *gateway.Order) (Charge, int64, error) {
	t, err := tier.Parse(order.Notes[NoteTier])
	if err != nil || t == tier.Free {
		return Charge{}, 0, fmt.Errorf("%w: tier %q", ErrMalformedOrder, order.Notes[NoteTier])
	}
	c, err := tier.ParseCycle(order.Notes[NoteCycle])
	if err != nil {
		return Charge{}, 0, fmt.Errorf("%w: cycle %q", ErrMalformedOrder, order.Notes[NoteCycle])
	}
	plan, err := v.catalog.Plan(t)
	if err != nil {
		return Charge{}, 0, errors.Join(ErrUnknownTier, err)
	}
	return Charge{Tier: t, Cycle: c}, plan.Price(c), nil
}

// settle applies charge to the tenant's subscription and records the
// payment. It must run inside a transaction; tx locks the tenant row.
func (v *Verifier) settle(ctx context.Context, tx Tx, tenantID uuid.UUID, charge Charge, now time.Time, p Payment) (*Subscription, ChargeKind, error) {
	recorded, err := tx.PaymentRecorded(ctx, p.PaymentRef)
	if err != nil {
		return nil, "", err
	}
	if recorded {
		return nil, "", ErrDuplicatePayment
	}

	sub, err := tx.LockSubscription(ctx, tenantID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		pending := NewFreeSubscription(tenantID, now)
		pending.Status = StatusPending
		sub, err = tx.CreateSubscription(ctx, pending)
	}
	if err != nil {
		return nil, "", err
	}

	kind, err := v.lifecycle.Charge(ctx, sub, charge, now)
	if err != nil {
		return nil, "", err
	}
	if err := tx.SaveSubscription(ctx, sub); err != nil {
		return nil, "", err
	}

	p.Tier, p.Cycle, p.CreatedAt = charge.Tier, charge.Cycle, now
	if err := tx.RecordPayment(ctx, p); err != nil {
		return nil, "", err
	}
	return sub, kind, nil
}

func (v *Verifier) reject(ctx context.Context, tenantID uuid.UUID, orderRef, paymentRef, check string, err error) error {
	v.metrics.verification("rejected", check)
	result := audit.ResultFailure
	if k := Classify(err); k == KindTransient || k == KindInternal {
		result = audit.ResultError
	}
	v.record(ctx, ActionPaymentRejected, tenantID, err,
		audit.WithResult(result),
		audit.WithResource("payment", paymentRef),
		audit.WithMetadata("order_ref", orderRef),
		audit.WithMetadata("failed_check", check),
	)
	return err
}

func (v *Verifier) record(ctx context.Context, action string, tenantID uuid.UUID, cause error, opts ...audit.EventOption) {
	if v.audit == nil {
		return
	}
	opts = append(opts, audit.WithTenant(tenantID.String()))
	var err error
	if cause != nil {
		err = v.audit.LogError(ctx, action, cause, opts...)
	} else {
		err = v.audit.Log(ctx, action, opts...)
	}
	if err != nil {
		v.log.ErrorContext(ctx, "audit write failed", slog.String("action", action), logger.Error(err))
	}
}

// gatewayError maps gateway failures. Not found and other permanent
// rejections become notFound; anything else is treated as the gateway being
// unavailable so the caller retries the whole verification.
func gatewayError(err, notFound error) error {
	if errors.Is(err, gateway.ErrNotFound) || errors.Is(err, gateway.ErrPermanentFailure) {
		return errors.Join(notFound, err)
	}
	return errors.Join(ErrGatewayUnavailable, err)
}
