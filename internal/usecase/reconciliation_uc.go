package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"premium-reconciler/internal/domain"
	"premium-reconciler/internal/domain/model"
	"premium-reconciler/internal/domain/ports/adapter"
	"premium-reconciler/internal/domain/ports/repository"
)

// Compile-time check
var _ ReconciliationUseCase = (*reconciliationUC)(nil)

type ProcessOutcome string

const (
	OutcomeProcessed  ProcessOutcome = "processed"
	OutcomeDuplicate  ProcessOutcome = "duplicate"
	OutcomeUnresolved ProcessOutcome = "unresolved"
	// OutcomeIgnored marks an authentic event that was recorded but could not
	// move the subscription side (invalid transition, unknown subscription).
	OutcomeIgnored ProcessOutcome = "ignored"
)

// ProcessResult is what one pass of the pipeline did with an event.
type ProcessResult struct {
	Outcome   ProcessOutcome
	PaymentID string
	UserID    string
	Source    model.ResolutionSource
	Status    *model.UserSubscriptionStatus
	Reason    string
}

type ReconciliationUseCase interface {
	// ProcessEvent runs a verified, validated event through guard, resolver,
	// ledger, state machine and projector. Errors satisfying
	// domain.IsRetryable mean nothing was committed and the gateway should redeliver.
	ProcessEvent(ctx context.Context, ev *model.GatewayEvent) (*ProcessResult, error)
	// ListUnresolved pages through flagged payments and skeletons whose
	// processing never committed.
	ListUnresolved(ctx context.Context, limit, offset int) ([]*model.Payment, error)
	// ResolveManually assigns an unresolved payment to userID and re-drives it.
	ResolveManually(ctx context.Context, paymentID, userID string) (*ProcessResult, error)
	// RetryResolution re-runs the automatic rules for an unresolved payment.
	RetryResolution(ctx context.Context, paymentID string) (*ProcessResult, error)
}

// Repositories bundles the storage ports the pipeline works against.
type Repositories struct {
	Tx            repository.TransactionManager
	Users         repository.UserRepository
	Payments      repository.PaymentRepository
	Subscriptions repository.SubscriptionRepository
	Statuses      repository.StatusRepository
}

// EngineConfig carries the tunables shared by the pipeline components.
type EngineConfig struct {
	Resolver ResolverConfig
	Plans    PlanDurations
	// PendingGrace is how long a guard skeleton may stay unrecorded before it
	// is listed for manual reconciliation.
	PendingGrace time.Duration
	Clock        func() time.Time
}

const defaultPendingGrace = 15 * time.Minute

func (c EngineConfig) pendingGrace() time.Duration {
	if c.PendingGrace <= 0 {
		return defaultPendingGrace
	}
	return c.PendingGrace
}

func (c EngineConfig) clock() func() time.Time {
	if c.Clock == nil {
		return time.Now
	}
	return c.Clock
}

type reconciliationUC struct {
	repos     Repositories
	guard     *IdempotencyGuard
	resolver  *IdentityResolver
	ledger    *LedgerWriter
	machine   *SubscriptionMachine
	projector *StatusProjector
	cache     repository.StatusCache
	notifier  adapter.OperatorNotifier
	grace     time.Duration
	now       func() time.Time
	log       *zerolog.Logger
}

// NewReconciliationUseCase wires the pipeline. cache and notifier may be nil.
func NewReconciliationUseCase(
	repos Repositories,
	cfg EngineConfig,
	cache repository.StatusCache,
	notifier adapter.OperatorNotifier,
	logger *zerolog.Logger,
) *reconciliationUC {
	clock := cfg.clock()
	machine := NewSubscriptionMachine(repos.Subscriptions, cfg.Plans, logger)
	return &reconciliationUC{
		repos:     repos,
		guard:     NewIdempotencyGuard(repos.Payments, clock),
		resolver:  NewIdentityResolver(repos.Users, cfg.Resolver),
		ledger:    NewLedgerWriter(repos.Payments, clock),
		machine:   machine,
		projector: NewStatusProjector(repos.Users, repos.Subscriptions, repos.Payments, repos.Statuses, machine),
		cache:     cache,
		notifier:  notifier,
		grace:     cfg.pendingGrace(),
		now:       clock,
		log:       machine.log,
	}
}

func (u *reconciliationUC) ProcessEvent(ctx context.Context, ev *model.GatewayEvent) (*ProcessResult, error) {
	if ev == nil || ev.ID == "" {
		return nil, domain.ErrInvalidArgument
	}

	decision, stored, err := u.guard.Check(ctx, ev)
	if err != nil {
		return nil, storageErr(err)
	}
	if decision == GuardAlreadyProcessed {
		res := &ProcessResult{Outcome: OutcomeDuplicate, PaymentID: ev.ID, Source: stored.ResolutionSource}
		if stored.IsResolved() {
			res.UserID = *stored.ResolvedUserID
		}
		u.log.Debug().Str("payment_id", ev.ID).Str("status", string(stored.Status)).Msg("duplicate delivery acknowledged")
		return res, nil
	}

	resolution, err := u.resolve(ctx, ev, stored)
	if err != nil {
		return nil, storageErr(err)
	}
	if !resolution.Resolved() {
		return u.recordUnresolved(ctx, ev, resolution)
	}
	return u.apply(ctx, ev, resolution)
}

// resolve reuses an earlier resolution when the ledger already has one,
// otherwise runs the rules and finally falls back to the owner of a known
// gateway subscription. An unresolved outcome is not an error here.
func (u *reconciliationUC) resolve(ctx context.Context, ev *model.GatewayEvent, stored *model.Payment) (*Resolution, error) {
	if stored.IsResolved() {
		return &Resolution{UserID: *stored.ResolvedUserID, Source: stored.ResolutionSource}, nil
	}
	res, err := u.resolver.Resolve(ctx, repository.NoTX, ev)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, domain.ErrUnresolvedIdentity) {
		return nil, err
	}
	gid := ev.SubscriptionID()
	if gid == "" {
		return res, nil
	}
	sub, err := u.repos.Subscriptions.FindByGatewayID(ctx, repository.NoTX, gid)
	switch {
	case err == nil:
		return res.match(model.ResolutionSubscription, sub.UserID), nil
	case errors.Is(err, domain.ErrNotFound):
		res.note(model.ResolutionSubscription, AttemptNoUser)
		return res, nil
	default:
		return nil, err
	}
}

func (u *reconciliationUC) recordUnresolved(ctx context.Context, ev *model.GatewayEvent, res *Resolution) (*ProcessResult, error) {
	out := &ProcessResult{Outcome: OutcomeUnresolved, PaymentID: ev.ID, Source: model.ResolutionUnresolved, Reason: res.Trail()}
	logEvt := u.log.Warn().Str("payment_id", ev.ID).Str("event", ev.Name).Str("attempts", res.Trail())
	if !ev.HasPayment() {
		logEvt.Msg("subscription event for unknown owner acknowledged")
		return out, nil
	}

	var lr *LedgerResult
	err := u.repos.Tx.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		lr, err = u.ledger.Record(ctx, tx, ev, res)
		return err
	})
	if err != nil {
		return nil, storageErr(err)
	}
	logEvt.Str("status", string(lr.Payment.Status)).Bool("first_flag", lr.Flagged).Msg("payment left unresolved")

	if lr.Flagged && u.notifier != nil {
		if err := u.notifier.NotifyUnresolved(ctx, lr.Payment); err != nil {
			u.log.Warn().Err(err).Str("payment_id", ev.ID).Msg("failed to notify operators")
		}
	}
	return out, nil
}

// apply runs ledger, state machine and projector for a resolved event under
// the user's lock. Everything commits or nothing does.
func (u *reconciliationUC) apply(ctx context.Context, ev *model.GatewayEvent, res *Resolution) (*ProcessResult, error) {
	out := &ProcessResult{PaymentID: ev.ID, UserID: res.UserID, Source: res.Source}
	log := u.log.With().Str("payment_id", ev.ID).Str("user_id", res.UserID).Logger()

	err := u.repos.Tx.WithUserLock(ctx, res.UserID, func(ctx context.Context, tx repository.Tx) error {
		out.Outcome, out.Reason, out.Status = "", "", nil
		now := u.now()

		var p *model.Payment
		runMachine := ev.IsSubscriptionOnly()
		if ev.HasPayment() {
			lr, err := u.ledger.Record(ctx, tx, ev, res)
			if err != nil {
				return err
			}
			p = lr.Payment
			if p.IsResolved() && *p.ResolvedUserID != res.UserID {
				return fmt.Errorf("%w: payment %s was resolved to another user concurrently", domain.ErrTransientStorage, ev.ID)
			}
			if lr.Rejected {
				out.Outcome = OutcomeIgnored
				out.Reason = fmt.Sprintf("payment status %s cannot move to %s", lr.Previous, ev.Status)
				log.Warn().Str("stored", string(lr.Previous)).Str("incoming", string(ev.Status)).Msg("payment transition rejected")
			}
			runMachine = lr.NeedsStateMachine()
		}

		if runMachine {
			if _, err := u.machine.Apply(ctx, tx, res.UserID, p, ev, now); err != nil {
				if !acknowledgeable(err) {
					return err
				}
				out.Outcome = OutcomeIgnored
				out.Reason = err.Error()
				log.Warn().Err(err).Str("event", ev.Name).Msg("subscription left unchanged")
			}
		}

		st, err := u.projector.Project(ctx, tx, res.UserID, now)
		if err != nil {
			return err
		}
		out.Status = st
		return nil
	})
	if err != nil {
		return nil, storageErr(err)
	}
	if out.Outcome == "" {
		out.Outcome = OutcomeProcessed
	}
	if u.cache != nil {
		u.cache.Invalidate(ctx, res.UserID, out.Status.ProjectedAt)
	}
	log.Info().Str("outcome", string(out.Outcome)).Str("source", string(res.Source)).
		Bool("premium", out.Status.IsPremium).Bool("super_user", out.Status.IsSuperUser).Msg("event reconciled")
	return out, nil
}

func (u *reconciliationUC) ListUnresolved(ctx context.Context, limit, offset int) ([]*model.Payment, error) {
	limit, offset = clampPage(limit, offset)
	return u.repos.Payments.ListUnresolved(ctx, repository.NoTX, u.now().Add(-u.grace), limit, offset)
}

func (u *reconciliationUC) ResolveManually(ctx context.Context, paymentID, userID string) (*ProcessResult, error) {
	if paymentID == "" || userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if _, err := u.repos.Users.FindByID(ctx, repository.NoTX, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, userID)
		}
		return nil, storageErr(err)
	}
	p, err := u.loadPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.IsResolved() && *p.ResolvedUserID != userID {
		return nil, fmt.Errorf("%w: payment %s already belongs to user %s", domain.ErrConflict, paymentID, *p.ResolvedUserID)
	}
	ev, err := eventFromStored(p)
	if err != nil {
		return nil, err
	}
	u.log.Info().Str("payment_id", paymentID).Str("user_id", userID).Msg("manual resolution")
	return u.apply(ctx, ev, &Resolution{UserID: userID, Source: model.ResolutionManual})
}

func (u *reconciliationUC) RetryResolution(ctx context.Context, paymentID string) (*ProcessResult, error) {
	p, err := u.loadPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.IsResolved() {
		return &ProcessResult{Outcome: OutcomeDuplicate, PaymentID: paymentID, UserID: *p.ResolvedUserID, Source: p.ResolutionSource}, nil
	}
	ev, err := eventFromStored(p)
	if err != nil {
		return nil, err
	}
	res, err := u.resolve(ctx, ev, p)
	if err != nil {
		return nil, storageErr(err)
	}
	if !res.Resolved() {
		return &ProcessResult{Outcome: OutcomeUnresolved, PaymentID: paymentID, Source: model.ResolutionUnresolved, Reason: res.Trail()}, nil
	}
	return u.apply(ctx, ev, res)
}

func (u *reconciliationUC) loadPayment(ctx context.Context, paymentID string) (*model.Payment, error) {
	if paymentID == "" {
		return nil, domain.ErrInvalidArgument
	}
	p, err := u.repos.Payments.FindByGatewayID(ctx, repository.NoTX, paymentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: payment %s", domain.ErrNotFound, paymentID)
		}
		return nil, storageErr(err)
	}
	return p, nil
}

// eventFromStored rebuilds the event behind a ledger row. The ledger's status
// is authoritative over whatever the stored event said.
func eventFromStored(p *model.Payment) (*model.GatewayEvent, error) {
	if len(p.RawEvent) == 0 {
		return model.EventFromPayment(p), nil
	}
	var ev model.GatewayEvent
	if err := json.Unmarshal(p.RawEvent, &ev); err != nil {
		return nil, fmt.Errorf("%w: stored event for %s: %v", domain.ErrMalformedPayload, p.GatewayPaymentID, err)
	}
	ev.ID = p.GatewayPaymentID
	ev.Status = p.Status
	return &ev, nil
}

// acknowledgeable errors leave the event recorded but the subscription untouched.
func acknowledgeable(err error) bool {
	return errors.Is(err, domain.ErrInvalidStateTransition) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidArgument)
}

// storageErr classifies anything that is not already a domain outcome as a
// transient storage failure, so the caller asks the gateway to redeliver.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrTransientStorage) || errors.Is(err, domain.ErrLockTimeout) ||
		errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrMalformedPayload) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
