package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// opTimeout bounds every store operation so a stuck statement cannot hold a
// row lock across a chain walk.
const opTimeout = 5 * time.Second

// PostgresStore is the durable Store. Counters live on the user row and are
// mutated with single-statement atomic increments; chain steps pair the
// increment with the event's progress cursor in one transaction.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the referral schema on startup when enabled.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS referral;

		CREATE TABLE IF NOT EXISTS referral.users (
			user_id          text PRIMARY KEY,
			own_code         text NOT NULL,
			code_active      boolean NOT NULL DEFAULT true,
			parent_id        text REFERENCES referral.users (user_id),
			direct_referrals bigint NOT NULL DEFAULT 0,
			team_size        bigint NOT NULL DEFAULT 0,
			role             smallint NOT NULL DEFAULT 1,
			role_assigned_at timestamptz NOT NULL DEFAULT now(),
			created_at       timestamptz NOT NULL DEFAULT now(),
			CONSTRAINT users_own_code_key UNIQUE (own_code),
			CONSTRAINT users_no_self_referral CHECK (parent_id IS NULL OR parent_id <> user_id)
		);
		CREATE INDEX IF NOT EXISTS users_parent_idx ON referral.users (parent_id);

		CREATE TABLE IF NOT EXISTS referral.events (
			new_user_id   text PRIMARY KEY REFERENCES referral.users (user_id),
			event_id      uuid NOT NULL,
			code_used     text NOT NULL DEFAULT '',
			referrer_id   text NOT NULL DEFAULT '',
			status        text NOT NULL DEFAULT 'received',
			applied_depth integer NOT NULL DEFAULT 0,
			created_at    timestamptz NOT NULL DEFAULT now(),
			updated_at    timestamptz NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS events_incomplete_idx
			ON referral.events (created_at) WHERE status <> 'complete';
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, userID, ownCode, parentID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if parentID != "" && parentID == userID {
		return ErrSelfReferral
	}
	var parent any
	if parentID != "" {
		parent = parentID
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO referral.users (user_id, own_code, parent_id)
		VALUES ($1, $2, $3)
	`, userID, ownCode, parent)
	if err != nil {
		return mapCreateErr(err)
	}
	return nil
}

func mapCreateErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if strings.Contains(pgErr.ConstraintName, "own_code") {
				return ErrDuplicateCode
			}
			return ErrDuplicateUser
		case "23503": // foreign_key_violation
			return ErrInvalidParent
		case "23514": // check_violation
			return ErrSelfReferral
		}
	}
	return mapTxErr(err)
}

// mapTxErr folds retryable SQLSTATEs into ErrTxConflict so callers can back
// off and retry.
func mapTxErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", ErrTxConflict, pgErr.Code)
		}
	}
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*UserNode, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var u UserNode
	var role int16
	err := s.db.QueryRow(ctx, `
		SELECT user_id, own_code, code_active, COALESCE(parent_id, ''),
		       direct_referrals, team_size, role, role_assigned_at, created_at
		FROM referral.users
		WHERE user_id = $1
	`, userID).Scan(&u.UserID, &u.OwnCode, &u.CodeActive, &u.ParentID,
		&u.DirectReferrals, &u.TeamSize, &role, &u.RoleAssignedAt, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, mapTxErr(err)
	}
	u.Role = Role(role)
	u.RoleName = u.Role.String()
	return &u, nil
}

func (s *PostgresStore) ResolveCode(ctx context.Context, code string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var userID string
	var active bool
	err := s.db.QueryRow(ctx, `
		SELECT user_id, code_active FROM referral.users WHERE own_code = $1
	`, code).Scan(&userID, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrCodeNotFound
		}
		return "", mapTxErr(err)
	}
	if !active {
		return "", ErrCodeInactive
	}
	return userID, nil
}

func (s *PostgresStore) CodeExists(ctx context.Context, code string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM referral.users WHERE own_code = $1)
	`, code).Scan(&exists)
	if err != nil {
		return false, mapTxErr(err)
	}
	return exists, nil
}

// DeactivateCode retires a code for good. The row keeps the code so it can
// never be issued again.
func (s *PostgresStore) DeactivateCode(ctx context.Context, code string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cmd, err := s.db.Exec(ctx, `
		UPDATE referral.users SET code_active = false WHERE own_code = $1
	`, code)
	if err != nil {
		return mapTxErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrCodeNotFound
	}
	return nil
}

func (s *PostgresStore) GetAncestorChain(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	if err := s.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM referral.users WHERE user_id = $1)
	`, userID).Scan(&exists); err != nil {
		return nil, mapTxErr(err)
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	rows, err := s.db.Query(ctx, `
		WITH RECURSIVE upline AS (
			SELECT u.parent_id, 1 AS depth
			FROM referral.users u
			WHERE u.user_id = $1
			UNION ALL
			SELECT u.parent_id, up.depth + 1
			FROM referral.users u
			JOIN upline up ON u.user_id = up.parent_id
			WHERE up.depth <= $2
		)
		SELECT parent_id FROM upline WHERE parent_id IS NOT NULL ORDER BY depth
	`, userID, MaxChainDepth+1)
	if err != nil {
		return nil, mapTxErr(err)
	}
	defer rows.Close()

	var chain []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		chain = append(chain, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapTxErr(err)
	}
	if len(chain) > MaxChainDepth {
		return nil, ErrCycleDetected
	}
	return chain, nil
}

func (s *PostgresStore) ApplyCounterDelta(ctx context.Context, userID string, directDelta, teamDelta int64) (int64, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var direct, team int64
	err := s.db.QueryRow(ctx, `
		UPDATE referral.users
		SET direct_referrals = direct_referrals + $2,
		    team_size = team_size + $3
		WHERE user_id = $1
		RETURNING direct_referrals, team_size
	`, userID, directDelta, teamDelta).Scan(&direct, &team)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, ErrUserNotFound
		}
		return 0, 0, mapTxErr(err)
	}
	return direct, team, nil
}

func (s *PostgresStore) ApplyChainStep(ctx context.Context, newUserID string, step int, nodeID string, directDelta, teamDelta int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapTxErr(err)
	}
	defer tx.Rollback(ctx)

	// Advancing the cursor only succeeds for the expected step, so a
	// concurrent or repeated re-drive of the same event cannot apply the
	// same delta twice.
	cmd, err := tx.Exec(ctx, `
		UPDATE referral.events
		SET applied_depth = $2 + 1, updated_at = now()
		WHERE new_user_id = $1 AND applied_depth = $2
	`, newUserID, step)
	if err != nil {
		return mapTxErr(err)
	}
	if cmd.RowsAffected() == 0 {
		var depth int
		err := tx.QueryRow(ctx, `
			SELECT applied_depth FROM referral.events WHERE new_user_id = $1
		`, newUserID).Scan(&depth)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrEventNotFound
		}
		if err != nil {
			return mapTxErr(err)
		}
		if depth > step {
			return ErrEventAlreadyApplied
		}
		return fmt.Errorf("%w: event %s at depth %d, expected %d", ErrTxConflict, newUserID, depth, step)
	}

	cmd, err = tx.Exec(ctx, `
		UPDATE referral.users
		SET direct_referrals = direct_referrals + $2,
		    team_size = team_size + $3
		WHERE user_id = $1
	`, nodeID, directDelta, teamDelta)
	if err != nil {
		return mapTxErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return mapTxErr(err)
	}
	return nil
}

func (s *PostgresStore) SetRole(ctx context.Context, userID string, role Role) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cmd, err := s.db.Exec(ctx, `
		UPDATE referral.users
		SET role_assigned_at = CASE WHEN role <> $2 THEN now() ELSE role_assigned_at END,
		    role = $2
		WHERE user_id = $1
	`, userID, int16(role))
	if err != nil {
		return mapTxErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) RecordEvent(ctx context.Context, ev *ReferralEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cmd, err := s.db.Exec(ctx, `
		INSERT INTO referral.events (new_user_id, event_id, code_used, referrer_id, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (new_user_id) DO NOTHING
	`, ev.NewUserID, ev.EventID, ev.CodeUsed, ev.ReferrerID, string(ev.Status))
	if err != nil {
		return mapTxErr(err)
	}
	if cmd.RowsAffected() == 0 {
		existing, err := s.GetEvent(ctx, ev.NewUserID)
		if err != nil {
			return err
		}
		*ev = *existing
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, newUserID string) (*ReferralEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var ev ReferralEvent
	var status string
	err := s.db.QueryRow(ctx, `
		SELECT new_user_id, event_id, code_used, referrer_id, status, applied_depth, created_at, updated_at
		FROM referral.events
		WHERE new_user_id = $1
	`, newUserID).Scan(&ev.NewUserID, &ev.EventID, &ev.CodeUsed, &ev.ReferrerID,
		&status, &ev.AppliedDepth, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, mapTxErr(err)
	}
	ev.Status = EventStatus(status)
	return &ev, nil
}

func (s *PostgresStore) MarkEventStatus(ctx context.Context, newUserID string, status EventStatus) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cmd, err := s.db.Exec(ctx, `
		UPDATE referral.events SET status = $2, updated_at = now() WHERE new_user_id = $1
	`, newUserID, string(status))
	if err != nil {
		return mapTxErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (s *PostgresStore) ListIncompleteEvents(ctx context.Context, limit int) ([]ReferralEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		SELECT new_user_id, event_id, code_used, referrer_id, status, applied_depth, created_at, updated_at
		FROM referral.events
		WHERE status <> $1
		ORDER BY created_at
		LIMIT $2
	`, string(EventComplete), limit)
	if err != nil {
		return nil, mapTxErr(err)
	}
	defer rows.Close()

	var out []ReferralEvent
	for rows.Next() {
		var ev ReferralEvent
		var status string
		if err := rows.Scan(&ev.NewUserID, &ev.EventID, &ev.CodeUsed, &ev.ReferrerID,
			&status, &ev.AppliedDepth, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, err
		}
		ev.Status = EventStatus(status)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DirectChildren(ctx context.Context, userID string) ([]TeamMemberRow, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	if err := s.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM referral.users WHERE user_id = $1)
	`, userID).Scan(&exists); err != nil {
		return nil, mapTxErr(err)
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	rows, err := s.db.Query(ctx, `
		SELECT user_id, own_code, direct_referrals, team_size, role, created_at
		FROM referral.users
		WHERE parent_id = $1
		ORDER BY created_at, user_id
	`, userID)
	if err != nil {
		return nil, mapTxErr(err)
	}
	defer rows.Close()

	var out []TeamMemberRow
	for rows.Next() {
		var r TeamMemberRow
		var role int16
		if err := rows.Scan(&r.UserID, &r.OwnCode, &r.DirectReferrals, &r.TeamSize, &role, &r.JoinedAt); err != nil {
			return nil, err
		}
		r.RoleName = Role(role).String()
		out = append(out, r)
	}
	return out, rows.Err()
}
