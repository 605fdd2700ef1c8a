package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Notifier is the outbound promotion-notification boundary. Implementations
// live in internal/notify; failures are logged by the engine and never roll
// back counter or role state.
type Notifier interface {
	PromotionChanged(ctx context.Context, userID string, oldRole, newRole Role) error
}

type EngineConfig struct {
	Thresholds    []Threshold
	ShareBaseURL  string
	RetryAttempts int
	RetryBackoff  time.Duration
}

// Engine orchestrates one referral event end to end: code resolution, user
// creation, upline propagation, role re-evaluation and notification. User
// creation is the idempotency gate; everything after it can be re-driven
// safely.
type Engine struct {
	store      Store
	gen        *CodeGenerator
	prop       *Propagator
	notifier   Notifier
	thresholds []Threshold
	shareBase  string
	log        *slog.Logger
}

func NewEngine(store Store, notifier Notifier, cfg EngineConfig, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = DefaultThresholds()
	}
	if err := ValidateThresholds(cfg.Thresholds); err != nil {
		return nil, fmt.Errorf("thresholds: %w", err)
	}
	return &Engine{
		store:      store,
		gen:        NewCodeGenerator(store),
		prop:       NewPropagator(store, logger, cfg.RetryAttempts, cfg.RetryBackoff),
		notifier:   notifier,
		thresholds: cfg.Thresholds,
		shareBase:  cfg.ShareBaseURL,
		log:        logger,
	}, nil
}

func (e *Engine) Thresholds() []Threshold {
	out := make([]Threshold, len(e.thresholds))
	copy(out, e.thresholds)
	return out
}

// ProcessReferralEvent handles one registration. A bad or retired referral
// code never blocks it: the user is simply created without a parent. A
// duplicate user ID fails fast with ErrDuplicateUser unless an incomplete
// event record exists, in which case the event is resumed.
func (e *Engine) ProcessReferralEvent(ctx context.Context, newUserID, codeUsed string) (*RegistrationResult, error) {
	newUserID = strings.TrimSpace(newUserID)
	if newUserID == "" {
		return nil, fmt.Errorf("new user id is required")
	}

	code := NormalizeCode(codeUsed)
	referrerID := ""
	codeRejected := false
	if code != "" {
		id, err := e.store.ResolveCode(ctx, code)
		switch {
		case err == nil:
			referrerID = id
		case errors.Is(err, ErrCodeNotFound), errors.Is(err, ErrCodeInactive):
			// Fail open: registration proceeds without a parent.
			codeRejected = true
			e.log.Warn("referral code rejected", "user_id", newUserID, "code", code, "err", err)
		default:
			return nil, fmt.Errorf("resolve code %s: %w", code, err)
		}
	}

	ownCode, err := e.gen.Generate(ctx)
	if err != nil {
		return nil, err
	}

	if err := e.store.CreateUser(ctx, newUserID, ownCode, referrerID); err != nil {
		if errors.Is(err, ErrDuplicateUser) {
			return e.resume(ctx, newUserID)
		}
		return nil, err
	}

	ev := &ReferralEvent{
		EventID:    uuid.NewString(),
		NewUserID:  newUserID,
		CodeUsed:   code,
		ReferrerID: referrerID,
		Status:     EventReceived,
	}
	if err := e.store.RecordEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("record event: %w", err)
	}
	if err := e.drive(ctx, ev); err != nil {
		// The user exists and the event is recorded; the retry sweep
		// picks it up from whatever step it reached.
		e.log.Error("referral event incomplete", "user_id", newUserID, "status", ev.Status, "err", err)
	}

	return &RegistrationResult{
		UserID:       newUserID,
		OwnCode:      ownCode,
		ShareLink:    ShareLink(e.shareBase, ownCode),
		ReferrerID:   referrerID,
		CodeRejected: codeRejected,
	}, nil
}

// resume re-drives an event whose user was already created. Called both on
// an explicit duplicate registration and by the retry sweep.
func (e *Engine) resume(ctx context.Context, newUserID string) (*RegistrationResult, error) {
	ev, err := e.store.GetEvent(ctx, newUserID)
	if err != nil {
		if !errors.Is(err, ErrEventNotFound) {
			return nil, err
		}
		// The user row exists but its event record does not: a crash hit
		// the window between CreateUser and RecordEvent. Rebuild the event
		// from the user row so the upline deltas still get applied.
		ev, err = e.rebuildEvent(ctx, newUserID)
		if err != nil {
			return nil, err
		}
	}
	if ev.Status == EventComplete {
		return nil, ErrDuplicateUser
	}
	if err := e.drive(ctx, ev); err != nil {
		return nil, err
	}
	u, err := e.store.GetUser(ctx, newUserID)
	if err != nil {
		return nil, err
	}
	return &RegistrationResult{
		UserID:     u.UserID,
		OwnCode:    u.OwnCode,
		ShareLink:  ShareLink(e.shareBase, u.OwnCode),
		ReferrerID: u.ParentID,
	}, nil
}

// rebuildEvent recreates a lost event record from the user row. The code
// actually used at registration is gone, but the referrer relationship is on
// the row, and that is all propagation needs.
func (e *Engine) rebuildEvent(ctx context.Context, newUserID string) (*ReferralEvent, error) {
	u, err := e.store.GetUser(ctx, newUserID)
	if err != nil {
		return nil, err
	}
	ev := &ReferralEvent{
		EventID:    uuid.NewString(),
		NewUserID:  newUserID,
		ReferrerID: u.ParentID,
		Status:     EventReceived,
	}
	if err := e.store.RecordEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("rebuild event: %w", err)
	}
	e.log.Warn("rebuilt missing referral event", "user_id", newUserID, "referrer_id", u.ParentID)
	return ev, nil
}

// drive moves an event through its lifecycle:
// received -> applied -> roles_evaluated -> complete.
func (e *Engine) drive(ctx context.Context, ev *ReferralEvent) error {
	if ev.ReferrerID == "" {
		if err := e.store.MarkEventStatus(ctx, ev.NewUserID, EventComplete); err != nil {
			return err
		}
		ev.Status = EventComplete
		return nil
	}

	affected, err := e.prop.Propagate(ctx, ev.NewUserID, ev.ReferrerID)
	if err != nil {
		return err
	}
	if err := e.store.MarkEventStatus(ctx, ev.NewUserID, EventApplied); err != nil {
		return err
	}
	ev.Status = EventApplied

	changes, err := e.reevaluate(ctx, affected)
	if err != nil {
		return err
	}
	if err := e.store.MarkEventStatus(ctx, ev.NewUserID, EventRolesEvaluated); err != nil {
		return err
	}
	ev.Status = EventRolesEvaluated

	// Best effort, at-least-once: a failed send is logged, never fatal, and
	// two racing re-drives of one event can both observe a promotion and
	// emit it twice. Consumers dedupe on user and level.
	for _, ch := range changes {
		if e.notifier == nil {
			continue
		}
		if err := e.notifier.PromotionChanged(ctx, ch.userID, ch.oldRole, ch.newRole); err != nil {
			e.log.Error("promotion notification failed",
				"user_id", ch.userID, "old_role", ch.oldRole.String(), "new_role", ch.newRole.String(), "err", err)
		}
	}

	if err := e.store.MarkEventStatus(ctx, ev.NewUserID, EventComplete); err != nil {
		return err
	}
	ev.Status = EventComplete
	return nil
}

type roleChange struct {
	userID  string
	oldRole Role
	newRole Role
}

// reevaluate recomputes each affected ancestor's role against the threshold
// table and writes it only when it changed.
func (e *Engine) reevaluate(ctx context.Context, affected []string) ([]roleChange, error) {
	var changes []roleChange
	for _, userID := range affected {
		u, err := e.store.GetUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("get user %s: %w", userID, err)
		}
		newRole := Evaluate(e.thresholds, u.DirectReferrals, u.TeamSize)
		if newRole == u.Role {
			continue
		}
		if err := e.store.SetRole(ctx, userID, newRole); err != nil {
			return nil, fmt.Errorf("set role for %s: %w", userID, err)
		}
		changes = append(changes, roleChange{userID: userID, oldRole: u.Role, newRole: newRole})
	}
	return changes, nil
}

// RetryPending re-drives events that never reached complete. Returns how
// many events were successfully finished.
func (e *Engine) RetryPending(ctx context.Context, limit int) (int, error) {
	events, err := e.store.ListIncompleteEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list incomplete events: %w", err)
	}
	done := 0
	for i := range events {
		ev := events[i]
		if err := e.drive(ctx, &ev); err != nil {
			e.log.Error("retry sweep: event still incomplete", "user_id", ev.NewUserID, "err", err)
			continue
		}
		done++
	}
	return done, nil
}

// OwnCode is the read-only lookup consumed by the UI layer for sharing.
func (e *Engine) OwnCode(ctx context.Context, userID string) (string, string, error) {
	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return "", "", err
	}
	return u.OwnCode, ShareLink(e.shareBase, u.OwnCode), nil
}

// UplineChain returns the ancestor chain annotated for display, immediate
// parent first.
func (e *Engine) UplineChain(ctx context.Context, userID string) ([]ChainEntry, error) {
	chain, err := e.store.GetAncestorChain(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]ChainEntry, 0, len(chain))
	for i, id := range chain {
		u, err := e.store.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, ChainEntry{
			Depth:    i + 1,
			UserID:   u.UserID,
			RoleName: u.Role.String(),
			TeamSize: u.TeamSize,
		})
	}
	return out, nil
}
