package referral

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps the referral forest in process memory behind a single
// mutex, so every operation is a true atomic unit. It backs the test suite
// and any deployment that does not need durability.
type MemoryStore struct {
	mu      sync.Mutex
	users   map[string]*UserNode
	codes   map[string]string // every code ever issued -> owner
	retired map[string]bool
	events  map[string]*ReferralEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*UserNode),
		codes:   make(map[string]string),
		retired: make(map[string]bool),
		events:  make(map[string]*ReferralEvent),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, userID, ownCode, parentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if parentID != "" && parentID == userID {
		return ErrSelfReferral
	}
	if _, ok := s.users[userID]; ok {
		return ErrDuplicateUser
	}
	if _, ok := s.codes[ownCode]; ok {
		return ErrDuplicateCode
	}
	if parentID != "" {
		if _, ok := s.users[parentID]; !ok {
			return ErrInvalidParent
		}
	}

	now := time.Now().UTC()
	s.users[userID] = &UserNode{
		UserID:         userID,
		OwnCode:        ownCode,
		CodeActive:     true,
		ParentID:       parentID,
		Role:           RoleMember,
		RoleAssignedAt: now,
		CreatedAt:      now,
	}
	s.codes[ownCode] = userID
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, userID string) (*UserNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	cp.RoleName = cp.Role.String()
	return &cp, nil
}

func (s *MemoryStore) ResolveCode(ctx context.Context, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.codes[code]
	if !ok {
		return "", ErrCodeNotFound
	}
	if s.retired[code] {
		return "", ErrCodeInactive
	}
	return owner, nil
}

func (s *MemoryStore) CodeExists(ctx context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.codes[code]
	return ok, nil
}

func (s *MemoryStore) DeactivateCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.codes[code]
	if !ok {
		return ErrCodeNotFound
	}
	s.retired[code] = true
	if u, ok := s.users[owner]; ok {
		u.CodeActive = false
	}
	return nil
}

func (s *MemoryStore) GetAncestorChain(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ancestorChainLocked(userID)
}

func (s *MemoryStore) ancestorChainLocked(userID string) ([]string, error) {
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	var chain []string
	cur := u.ParentID
	for cur != "" {
		if len(chain) >= MaxChainDepth {
			return nil, ErrCycleDetected
		}
		chain = append(chain, cur)
		parent, ok := s.users[cur]
		if !ok {
			return nil, ErrInvalidParent
		}
		cur = parent.ParentID
	}
	return chain, nil
}

func (s *MemoryStore) ApplyCounterDelta(ctx context.Context, userID string, directDelta, teamDelta int64) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return 0, 0, ErrUserNotFound
	}
	u.DirectReferrals += directDelta
	u.TeamSize += teamDelta
	return u.DirectReferrals, u.TeamSize, nil
}

func (s *MemoryStore) ApplyChainStep(ctx context.Context, newUserID string, step int, nodeID string, directDelta, teamDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[newUserID]
	if !ok {
		return ErrEventNotFound
	}
	if ev.AppliedDepth > step {
		return ErrEventAlreadyApplied
	}
	if ev.AppliedDepth < step {
		return ErrTxConflict
	}
	u, ok := s.users[nodeID]
	if !ok {
		return ErrUserNotFound
	}
	u.DirectReferrals += directDelta
	u.TeamSize += teamDelta
	ev.AppliedDepth = step + 1
	ev.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetRole(ctx context.Context, userID string, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if u.Role == role {
		return nil
	}
	u.Role = role
	u.RoleAssignedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) RecordEvent(ctx context.Context, ev *ReferralEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.events[ev.NewUserID]; ok {
		cp := *existing
		*ev = cp
		return nil
	}
	now := time.Now().UTC()
	cp := *ev
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.events[ev.NewUserID] = &cp
	ev.CreatedAt = now
	ev.UpdatedAt = now
	return nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, newUserID string) (*ReferralEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[newUserID]
	if !ok {
		return nil, ErrEventNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *MemoryStore) MarkEventStatus(ctx context.Context, newUserID string, status EventStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[newUserID]
	if !ok {
		return ErrEventNotFound
	}
	ev.Status = status
	ev.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListIncompleteEvents(ctx context.Context, limit int) ([]ReferralEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ReferralEvent
	for _, ev := range s.events {
		if ev.Status != EventComplete {
			out = append(out, *ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DirectChildren(ctx context.Context, userID string) ([]TeamMemberRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return nil, ErrUserNotFound
	}
	var out []TeamMemberRow
	for _, u := range s.users {
		if u.ParentID != userID {
			continue
		}
		out = append(out, TeamMemberRow{
			UserID:          u.UserID,
			OwnCode:         u.OwnCode,
			DirectReferrals: u.DirectReferrals,
			TeamSize:        u.TeamSize,
			RoleName:        u.Role.String(),
			JoinedAt:        u.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}
