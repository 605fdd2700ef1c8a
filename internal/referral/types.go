package referral

import "time"

// UserNode is one node in the referral forest. ParentID is empty for roots.
// TeamSize counts every transitive descendant; DirectReferrals counts only
// immediate children.
type UserNode struct {
	UserID          string    `json:"user_id"`
	OwnCode         string    `json:"own_code"`
	CodeActive      bool      `json:"code_active"`
	ParentID        string    `json:"parent_id,omitempty"`
	DirectReferrals int64     `json:"direct_referrals"`
	TeamSize        int64     `json:"team_size"`
	Role            Role      `json:"role"`
	RoleName        string    `json:"role_name"`
	RoleAssignedAt  time.Time `json:"role_assigned_at"`
	CreatedAt       time.Time `json:"created_at"`
}

type EventStatus string

const (
	EventReceived       EventStatus = "received"
	EventApplied        EventStatus = "applied"
	EventRolesEvaluated EventStatus = "roles_evaluated"
	EventComplete       EventStatus = "complete"
)

// ReferralEvent records one join. NewUserID doubles as the idempotency key:
// a user registers exactly once. AppliedDepth tracks how far along the upline
// chain counter deltas have been committed, so a retried event resumes
// instead of double-counting.
type ReferralEvent struct {
	EventID      string      `json:"event_id"`
	NewUserID    string      `json:"new_user_id"`
	CodeUsed     string      `json:"code_used,omitempty"`
	ReferrerID   string      `json:"referrer_id,omitempty"`
	Status       EventStatus `json:"status"`
	AppliedDepth int         `json:"applied_depth"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

type TeamMemberRow struct {
	UserID          string    `json:"user_id"`
	OwnCode         string    `json:"own_code"`
	DirectReferrals int64     `json:"direct_referrals"`
	TeamSize        int64     `json:"team_size"`
	RoleName        string    `json:"role_name"`
	JoinedAt        time.Time `json:"joined_at"`
}

type ChainEntry struct {
	Depth    int    `json:"depth"`
	UserID   string `json:"user_id"`
	RoleName string `json:"role_name"`
	TeamSize int64  `json:"team_size"`
}

// RegistrationResult is what the inbound boundary returns to the caller.
type RegistrationResult struct {
	UserID     string `json:"user_id"`
	OwnCode    string `json:"own_code"`
	ShareLink  string `json:"share_link"`
	ReferrerID string `json:"referrer_id,omitempty"`
	// CodeRejected is set when the supplied referral code was unknown or
	// retired; registration still succeeds with no parent.
	CodeRejected bool `json:"code_rejected,omitempty"`
}
