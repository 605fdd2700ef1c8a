package referral

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// Codes read UP + 6 chars from an alphabet without 0/O, 1/I/L.
	CodePrefix    = "UP"
	CodeSuffixLen = 6
	CodeAlphabet  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	// Safety bound on upline walks. A legal chain can never reach this
	// depth; hitting it means the parent graph is corrupted.
	MaxChainDepth = 4096

	CodeGenAttempts = 10
)

var (
	ErrDuplicateUser       = errors.New("user already exists")
	ErrDuplicateCode       = errors.New("referral code already exists")
	ErrInvalidParent       = errors.New("parent does not resolve to an existing user")
	ErrSelfReferral        = errors.New("user cannot refer themselves")
	ErrCodeNotFound        = errors.New("referral code not found")
	ErrCodeInactive        = errors.New("referral code has been retired")
	ErrCycleDetected       = errors.New("referral chain exceeds depth bound: cycle suspected")
	ErrUserNotFound        = errors.New("user not found")
	ErrEventNotFound       = errors.New("referral event not found")
	ErrEventAlreadyApplied = errors.New("referral event step already applied")
	ErrTxConflict          = errors.New("transaction conflict, retry")
)

var codeRE = regexp.MustCompile(`^` + CodePrefix + `[` + CodeAlphabet + `]{` + fmt.Sprint(CodeSuffixLen) + `,}$`)

// NormalizeCode uppercases and trims user input before lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func ValidCode(code string) bool {
	return codeRE.MatchString(code)
}

// ShareLink formats a code into the join URL handed to the UI layer.
func ShareLink(baseURL, code string) string {
	return strings.TrimRight(baseURL, "/") + "/" + code
}

// Role is one of nine ordered promotion levels. Zero is not a valid role;
// RoleMember is the universal floor.
type Role int

const (
	RoleMember Role = iota + 1
	RoleAdvocate
	RoleBuilder
	RoleMentor
	RoleLeader
	RoleManager
	RoleDirector
	RoleExecutive
	RoleAmbassador
)

var roleNames = map[Role]string{
	RoleMember:     "member",
	RoleAdvocate:   "advocate",
	RoleBuilder:    "builder",
	RoleMentor:     "mentor",
	RoleLeader:     "leader",
	RoleManager:    "manager",
	RoleDirector:   "director",
	RoleExecutive:  "executive",
	RoleAmbassador: "ambassador",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

func (r Role) Valid() bool {
	return r >= RoleMember && r <= RoleAmbassador
}

// Threshold is one promotion level: a user qualifies only when BOTH minimums
// are met. The table is data so policy changes never touch propagation code.
type Threshold struct {
	Level     Role  `json:"level"`
	MinDirect int64 `json:"min_direct"`
	MinTeam   int64 `json:"min_team"`
}

// DefaultThresholds is ordered lowest level first and non-decreasing in both
// dimensions. Level 1 is always 0/0 so every user qualifies for something.
func DefaultThresholds() []Threshold {
	return []Threshold{
		{RoleMember, 0, 0},
		{RoleAdvocate, 3, 5},
		{RoleBuilder, 5, 15},
		{RoleMentor, 10, 50},
		{RoleLeader, 15, 150},
		{RoleManager, 25, 500},
		{RoleDirector, 40, 1_500},
		{RoleExecutive, 60, 5_000},
		{RoleAmbassador, 100, 15_000},
	}
}

// ValidateThresholds rejects tables that would make Evaluate ambiguous.
func ValidateThresholds(table []Threshold) error {
	if len(table) == 0 {
		return fmt.Errorf("threshold table is empty")
	}
	if table[0].MinDirect != 0 || table[0].MinTeam != 0 {
		return fmt.Errorf("base level must require 0 direct and 0 team")
	}
	for i, t := range table {
		if t.MinDirect < 0 || t.MinTeam < 0 {
			return fmt.Errorf("level %d has negative thresholds", t.Level)
		}
		if t.Level != Role(i+1) {
			return fmt.Errorf("level %d out of order at index %d", t.Level, i)
		}
		if i == 0 {
			continue
		}
		prev := table[i-1]
		if t.MinDirect < prev.MinDirect || t.MinTeam < prev.MinTeam {
			return fmt.Errorf("level %d thresholds decrease", t.Level)
		}
	}
	return nil
}

// Evaluate returns the highest level whose direct AND team minimums are both
// satisfied. Pure function: no I/O, no side effects.
func Evaluate(table []Threshold, directCount, teamCount int64) Role {
	best := table[0].Level
	for i := len(table) - 1; i >= 0; i-- {
		t := table[i]
		if directCount >= t.MinDirect && teamCount >= t.MinTeam {
			return t.Level
		}
	}
	return best
}
