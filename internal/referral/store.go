package referral

import "context"

// Store is the only component allowed to read or write the referral forest.
// The propagator and engine hold no state of their own; everything flows
// through these operations, each of which is individually atomic.
type Store interface {
	// CreateUser inserts a node with zero counters and the base role.
	// Fails with ErrDuplicateUser, ErrDuplicateCode, ErrSelfReferral or
	// ErrInvalidParent. parentID == "" creates a root node.
	CreateUser(ctx context.Context, userID, ownCode, parentID string) error

	GetUser(ctx context.Context, userID string) (*UserNode, error)

	// ResolveCode maps a code to its owning user. ErrCodeNotFound for
	// unknown codes, ErrCodeInactive for retired ones.
	ResolveCode(ctx context.Context, code string) (string, error)

	// CodeExists reports whether a code was ever issued, retired or not.
	// Retired codes are never reassigned.
	CodeExists(ctx context.Context, code string) (bool, error)

	// DeactivateCode permanently retires a code (account removal path).
	DeactivateCode(ctx context.Context, code string) error

	// GetAncestorChain returns userIDs from immediate parent to root.
	// Empty for roots. ErrCycleDetected if the walk exceeds MaxChainDepth.
	GetAncestorChain(ctx context.Context, userID string) ([]string, error)

	// ApplyCounterDelta atomically increments a node's counters and
	// returns the new values. Concurrent deltas to the same node must
	// never lose an update.
	ApplyCounterDelta(ctx context.Context, userID string, directDelta, teamDelta int64) (int64, int64, error)

	// ApplyChainStep applies one node's counter delta and advances the
	// owning event's applied depth from step to step+1 in the same atomic
	// unit. ErrEventAlreadyApplied when the step was already committed,
	// which makes concurrent or repeated re-drives of one event safe.
	ApplyChainStep(ctx context.Context, newUserID string, step int, nodeID string, directDelta, teamDelta int64) error

	// SetRole assigns a role. Setting the current role again is a no-op.
	SetRole(ctx context.Context, userID string, role Role) error

	RecordEvent(ctx context.Context, ev *ReferralEvent) error
	GetEvent(ctx context.Context, newUserID string) (*ReferralEvent, error)
	MarkEventStatus(ctx context.Context, newUserID string, status EventStatus) error

	// ListIncompleteEvents returns events that never reached
	// EventComplete, oldest first, for the retry sweep.
	ListIncompleteEvents(ctx context.Context, limit int) ([]ReferralEvent, error)

	DirectChildren(ctx context.Context, userID string) ([]TeamMemberRow, error)
}
