package referral

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateUserValidation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateUser(ctx, "alice", "UPAAAAAA", ""); err != nil {
		t.Fatalf("create root: %v", err)
	}
	if err := store.CreateUser(ctx, "alice", "UPBBBBBB", ""); !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("duplicate user: got %v", err)
	}
	if err := store.CreateUser(ctx, "bob", "UPAAAAAA", ""); !errors.Is(err, ErrDuplicateCode) {
		t.Fatalf("duplicate code: got %v", err)
	}
	if err := store.CreateUser(ctx, "bob", "UPBBBBBB", "ghost"); !errors.Is(err, ErrInvalidParent) {
		t.Fatalf("missing parent: got %v", err)
	}
	if err := store.CreateUser(ctx, "bob", "UPBBBBBB", "bob"); !errors.Is(err, ErrSelfReferral) {
		t.Fatalf("self referral: got %v", err)
	}
	if err := store.CreateUser(ctx, "bob", "UPBBBBBB", "alice"); err != nil {
		t.Fatalf("create child: %v", err)
	}

	u, err := store.GetUser(ctx, "bob")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Role != RoleMember || u.DirectReferrals != 0 || u.TeamSize != 0 {
		t.Fatalf("new user must start at base role with zero counters: %+v", u)
	}
}

func TestResolveAndRetireCodes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateUser(ctx, "alice", "UPAAAAAA", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	owner, err := store.ResolveCode(ctx, "UPAAAAAA")
	if err != nil || owner != "alice" {
		t.Fatalf("resolve: %q, %v", owner, err)
	}
	if _, err := store.ResolveCode(ctx, "UPZZZZZZ"); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("unknown code: got %v", err)
	}

	if err := store.DeactivateCode(ctx, "UPAAAAAA"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := store.ResolveCode(ctx, "UPAAAAAA"); !errors.Is(err, ErrCodeInactive) {
		t.Fatalf("retired code must resolve as inactive: got %v", err)
	}

	// Retired codes are never reissued: they still count as existing.
	exists, err := store.CodeExists(ctx, "UPAAAAAA")
	if err != nil || !exists {
		t.Fatalf("retired code must still exist: %v %v", exists, err)
	}
	if err := store.CreateUser(ctx, "carol", "UPAAAAAA", ""); !errors.Is(err, ErrDuplicateCode) {
		t.Fatalf("retired code must not be reassignable: got %v", err)
	}
}

func TestSetRoleIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateUser(ctx, "alice", "UPAAAAAA", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.SetRole(ctx, "alice", RoleBuilder); err != nil {
		t.Fatalf("set role: %v", err)
	}
	u, _ := store.GetUser(ctx, "alice")
	assignedAt := u.RoleAssignedAt

	time.Sleep(5 * time.Millisecond)
	if err := store.SetRole(ctx, "alice", RoleBuilder); err != nil {
		t.Fatalf("re-set same role: %v", err)
	}
	u, _ = store.GetUser(ctx, "alice")
	if !u.RoleAssignedAt.Equal(assignedAt) {
		t.Fatalf("setting the same role must not touch role_assigned_at")
	}
	if err := store.SetRole(ctx, "ghost", RoleBuilder); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown user: got %v", err)
	}
}

func TestAncestorChainAndCycleGuard(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ids := []string{"u0", "u1", "u2", "u3"}
	for i, id := range ids {
		parent := ""
		if i > 0 {
			parent = ids[i-1]
		}
		if err := store.CreateUser(ctx, id, "UPAAAAA"+string(rune('A'+i)), parent); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	chain, err := store.GetAncestorChain(ctx, "u3")
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	want := []string{"u2", "u1", "u0"}
	if len(chain) != len(want) {
		t.Fatalf("chain %v, want %v", chain, want)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Fatalf("chain %v, want %v", chain, want)
		}
	}

	root, err := store.GetAncestorChain(ctx, "u0")
	if err != nil || len(root) != 0 {
		t.Fatalf("root chain must be empty: %v, %v", root, err)
	}

	// Corrupt the graph: point the root's parent at the leaf. The store
	// must refuse to walk the loop forever.
	store.mu.Lock()
	store.users["u0"].ParentID = "u3"
	store.mu.Unlock()

	if _, err := store.GetAncestorChain(ctx, "u3"); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("cycle walk: got %v, want ErrCycleDetected", err)
	}
}

func TestApplyCounterDelta(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateUser(ctx, "alice", "UPAAAAAA", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	direct, team, err := store.ApplyCounterDelta(ctx, "alice", 1, 1)
	if err != nil || direct != 1 || team != 1 {
		t.Fatalf("first delta: %d %d %v", direct, team, err)
	}
	direct, team, err = store.ApplyCounterDelta(ctx, "alice", 0, 1)
	if err != nil || direct != 1 || team != 2 {
		t.Fatalf("second delta: %d %d %v", direct, team, err)
	}
	if _, _, err := store.ApplyCounterDelta(ctx, "ghost", 1, 1); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown user: got %v", err)
	}
}

func TestChainStepProgress(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateUser(ctx, "alice", "UPAAAAAA", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreateUser(ctx, "bob", "UPBBBBBB", "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	ev := &ReferralEvent{EventID: "ev-1", NewUserID: "bob", ReferrerID: "alice", Status: EventReceived}
	if err := store.RecordEvent(ctx, ev); err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := store.ApplyChainStep(ctx, "bob", 0, "alice", 1, 1); err != nil {
		t.Fatalf("step 0: %v", err)
	}
	// Re-running the same step must be refused, not double-counted.
	if err := store.ApplyChainStep(ctx, "bob", 0, "alice", 1, 1); !errors.Is(err, ErrEventAlreadyApplied) {
		t.Fatalf("replayed step: got %v", err)
	}
	u, _ := store.GetUser(ctx, "alice")
	if u.DirectReferrals != 1 || u.TeamSize != 1 {
		t.Fatalf("counters double-applied: %+v", u)
	}
}
