package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

// EnsureUser upserts a user by email on first authenticated contact. The
// name is only overwritten when the caller supplies a non-blank one.
func (s *PostgresStore) EnsureUser(ctx context.Context, email, name string) (User, error) {
	const query = `
		INSERT INTO users (id, email, name)
		VALUES ('usr_' || REPLACE(gen_random_uuid()::text, '-', ''), $1, $2)
		ON CONFLICT (email) DO UPDATE
		SET name = CASE WHEN $2 <> '' THEN $2 ELSE users.name END
		RETURNING id, email, name, bio, department, role, created_at
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, email, name).Scan(
		&user.ID, &user.Email, &user.Name, &user.Bio, &user.Department, &user.Role, &user.CreatedAt,
	)
	if err != nil {
		return User{}, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, bio, department, password_hash, role)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Email, user.Name, user.Bio, user.Department, user.PasswordHash, user.Role)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, bio, department, password_hash, role, created_at
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Email, &user.Name, &user.Bio, &user.Department, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, bio, department, password_hash, role, created_at
		FROM users WHERE email=$1
	`, email).Scan(&user.ID, &user.Email, &user.Name, &user.Bio, &user.Department, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, name, bio, department, role, created_at
		FROM users
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Email, &user.Name, &user.Bio, &user.Department, &user.Role, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, userID, name, bio, department string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET name=$2, bio=$3, department=$4 WHERE id=$1
	`, userID, name, bio, department)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return checkAffected(result)
}

func (s *PostgresStore) SetUserRole(ctx context.Context, userID, role string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET role=$2 WHERE id=$1`, userID, role)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	return checkAffected(result)
}

// ---- ideas ----

// CreateIdeaWithOwner inserts the idea, its owner membership, and any skill
// requirements as one transaction. The owner membership invariant holds
// because no idea row ever becomes visible without it.
func (s *PostgresStore) CreateIdeaWithOwner(ctx context.Context, idea Idea, skills []SkillRequirement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create idea: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ideas (id, title, description, status, long_running, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, idea.ID, idea.Title, idea.Description, idea.Status, idea.LongRunning, idea.OwnerID); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert idea: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO idea_members (idea_id, user_id, role)
		VALUES ($1, $2, 'OWNER')
	`, idea.ID, idea.OwnerID); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert owner membership: %w", err)
	}

	for _, skill := range skills {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO idea_skills (idea_id, skill_id, level)
			VALUES ($1, $2, $3)
			ON CONFLICT (idea_id, skill_id) DO NOTHING
		`, idea.ID, skill.SkillID, skill.Level); err != nil {
			return fmt.Errorf("insert skill requirement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create idea: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetIdea(ctx context.Context, ideaID string) (Idea, error) {
	var idea Idea
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, status, long_running, owner_id, created_at
		FROM ideas WHERE id=$1
	`, ideaID).Scan(&idea.ID, &idea.Title, &idea.Description, &idea.Status, &idea.LongRunning, &idea.OwnerID, &idea.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Idea{}, ErrNotFound
	}
	if err != nil {
		return Idea{}, fmt.Errorf("get idea: %w", err)
	}
	return idea, nil
}

func (s *PostgresStore) ListIdeas(ctx context.Context) ([]IdeaSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.title, i.description, i.status, i.long_running, i.owner_id, i.created_at,
			u.name,
			(SELECT COUNT(*) FROM idea_members m WHERE m.idea_id = i.id),
			(SELECT COUNT(*) FROM join_requests jr WHERE jr.idea_id = i.id AND jr.status = 'PENDING')
		FROM ideas i
		JOIN users u ON u.id = i.owner_id
		ORDER BY i.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list ideas: %w", err)
	}
	defer rows.Close()

	items := make([]IdeaSummary, 0)
	for rows.Next() {
		var item IdeaSummary
		if err := rows.Scan(
			&item.ID, &item.Title, &item.Description, &item.Status, &item.LongRunning, &item.OwnerID, &item.CreatedAt,
			&item.OwnerName, &item.MemberCount, &item.PendingRequests,
		); err != nil {
			return nil, fmt.Errorf("scan idea: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ideas: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateIdeaStatus(ctx context.Context, ideaID, status string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE ideas SET status=$2 WHERE id=$1`, ideaID, status)
	if err != nil {
		return fmt.Errorf("update idea status: %w", err)
	}
	return checkAffected(result)
}

func (s *PostgresStore) UpdateIdeaLongRunning(ctx context.Context, ideaID string, flag bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE ideas SET long_running=$2 WHERE id=$1`, ideaID, flag)
	if err != nil {
		return fmt.Errorf("update idea long_running: %w", err)
	}
	return checkAffected(result)
}

// ---- memberships ----

func (s *PostgresStore) IsMember(ctx context.Context, ideaID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM idea_members WHERE idea_id=$1 AND user_id=$2)
	`, ideaID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// ListMembers returns the owner first, then contributors by join time.
func (s *PostgresStore) ListMembers(ctx context.Context, ideaID string) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.idea_id, m.user_id, m.role, m.joined_at, u.name, u.email
		FROM idea_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.idea_id=$1
		ORDER BY (m.role = 'OWNER') DESC, m.joined_at ASC
	`, ideaID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]Membership, 0)
	for rows.Next() {
		var item Membership
		if err := rows.Scan(&item.IdeaID, &item.UserID, &item.Role, &item.JoinedAt, &item.UserName, &item.UserEmail); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

// AddContributor is invoked only on join-request acceptance; the composite
// primary key turns a duplicate into ErrConflict.
func (s *PostgresStore) AddContributor(ctx context.Context, ideaID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idea_members (idea_id, user_id, role)
		VALUES ($1, $2, 'CONTRIBUTOR')
	`, ideaID, userID)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("add contributor: %w", err)
	}
	return nil
}

// ---- join requests ----

// InsertJoinRequest creates a PENDING request. The partial unique index on
// (idea_id, user_id) WHERE status='PENDING' makes the at-most-one-pending
// invariant hold under concurrency.
func (s *PostgresStore) InsertJoinRequest(ctx context.Context, request JoinRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO join_requests (id, idea_id, user_id, status, message)
		VALUES ($1, $2, $3, 'PENDING', $4)
	`, request.ID, request.IdeaID, request.UserID, request.Message)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert join request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJoinRequest(ctx context.Context, requestID string) (JoinRequest, error) {
	var item JoinRequest
	err := s.db.QueryRowContext(ctx, `
		SELECT id, idea_id, user_id, status, message, created_at, decided_at
		FROM join_requests WHERE id=$1
	`, requestID).Scan(&item.ID, &item.IdeaID, &item.UserID, &item.Status, &item.Message, &item.CreatedAt, &item.DecidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return JoinRequest{}, ErrNotFound
	}
	if err != nil {
		return JoinRequest{}, fmt.Errorf("get join request: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) HasPendingJoinRequest(ctx context.Context, ideaID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM join_requests WHERE idea_id=$1 AND user_id=$2 AND status='PENDING')
	`, ideaID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending request: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListJoinRequestsForIdea(ctx context.Context, ideaID string) ([]JoinRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT jr.id, jr.idea_id, jr.user_id, jr.status, jr.message, jr.created_at, jr.decided_at, u.name
		FROM join_requests jr
		JOIN users u ON u.id = jr.user_id
		WHERE jr.idea_id=$1
		ORDER BY jr.created_at DESC
	`, ideaID)
	if err != nil {
		return nil, fmt.Errorf("list join requests: %w", err)
	}
	defer rows.Close()
	return scanJoinRequests(rows, true)
}

func (s *PostgresStore) ListJoinRequestsForUser(ctx context.Context, userID string) ([]JoinRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT jr.id, jr.idea_id, jr.user_id, jr.status, jr.message, jr.created_at, jr.decided_at, i.title
		FROM join_requests jr
		JOIN ideas i ON i.id = jr.idea_id
		WHERE jr.user_id=$1
		ORDER BY jr.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user join requests: %w", err)
	}
	defer rows.Close()
	return scanJoinRequests(rows, false)
}

func scanJoinRequests(rows *sql.Rows, withUserName bool) ([]JoinRequest, error) {
	items := make([]JoinRequest, 0)
	for rows.Next() {
		var item JoinRequest
		var joined string
		if err := rows.Scan(&item.ID, &item.IdeaID, &item.UserID, &item.Status, &item.Message, &item.CreatedAt, &item.DecidedAt, &joined); err != nil {
			return nil, fmt.Errorf("scan join request: %w", err)
		}
		if withUserName {
			item.UserName = joined
		} else {
			item.IdeaTitle = joined
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate join requests: %w", err)
	}
	return items, nil
}

// DecideJoinRequest moves a PENDING request to a terminal status and, on
// acceptance, creates the contributor membership in the same transaction.
// The status guard in the UPDATE makes concurrent decisions race-safe: the
// first commit wins, the loser sees zero rows and gets ErrConflict.
func (s *PostgresStore) DecideJoinRequest(ctx context.Context, requestID, outcome string) (JoinRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return JoinRequest{}, fmt.Errorf("begin decide: %w", err)
	}
	defer tx.Rollback()

	var item JoinRequest
	err = tx.QueryRowContext(ctx, `
		UPDATE join_requests
		SET status=$2, decided_at=NOW()
		WHERE id=$1 AND status='PENDING'
		RETURNING id, idea_id, user_id, status, message, created_at, decided_at
	`, requestID, outcome).Scan(&item.ID, &item.IdeaID, &item.UserID, &item.Status, &item.Message, &item.CreatedAt, &item.DecidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a missing request from a terminal one.
		var exists bool
		if checkErr := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM join_requests WHERE id=$1)`, requestID).Scan(&exists); checkErr != nil {
			return JoinRequest{}, fmt.Errorf("check request: %w", checkErr)
		}
		if !exists {
			return JoinRequest{}, ErrNotFound
		}
		return JoinRequest{}, ErrConflict
	}
	if err != nil {
		return JoinRequest{}, fmt.Errorf("decide join request: %w", err)
	}

	if outcome == "ACCEPTED" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO idea_members (idea_id, user_id, role)
			VALUES ($1, $2, 'CONTRIBUTOR')
		`, item.IdeaID, item.UserID); err != nil {
			if isUniqueViolation(err) {
				// Membership arrived through another path; the whole
				// decision rolls back and the request stays PENDING.
				return JoinRequest{}, ErrConflict
			}
			return JoinRequest{}, fmt.Errorf("add accepted member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return JoinRequest{}, fmt.Errorf("commit decide: %w", err)
	}
	return item, nil
}

// ---- kanban cards ----

// InsertCard appends the card at the end of the target column: rank is
// computed as MAX(rank)+1 within the (idea, column) partition inside the
// INSERT itself, so sequential creates get dense call-order ranks.
func (s *PostgresStore) InsertCard(ctx context.Context, card KanbanCard) (KanbanCard, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO kanban_cards (id, idea_id, title, description, board_column, rank, assignee_id)
		VALUES ($1, $2, $3, $4, $5,
			(SELECT COALESCE(MAX(rank)+1, 0) FROM kanban_cards WHERE idea_id=$2 AND board_column=$5),
			$6)
		RETURNING id, idea_id, title, description, board_column, rank, assignee_id, created_at
	`, card.ID, card.IdeaID, card.Title, card.Description, card.Column, card.AssigneeID).Scan(
		&card.ID, &card.IdeaID, &card.Title, &card.Description, &card.Column, &card.Rank, &card.AssigneeID, &card.CreatedAt,
	)
	if isUniqueViolation(err) {
		return KanbanCard{}, ErrConflict
	}
	if err != nil {
		return KanbanCard{}, fmt.Errorf("insert card: %w", err)
	}
	return card, nil
}

func (s *PostgresStore) GetCard(ctx context.Context, cardID string) (KanbanCard, error) {
	var card KanbanCard
	err := s.db.QueryRowContext(ctx, `
		SELECT id, idea_id, title, description, board_column, rank, assignee_id, created_at
		FROM kanban_cards WHERE id=$1
	`, cardID).Scan(&card.ID, &card.IdeaID, &card.Title, &card.Description, &card.Column, &card.Rank, &card.AssigneeID, &card.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return KanbanCard{}, ErrNotFound
	}
	if err != nil {
		return KanbanCard{}, fmt.Errorf("get card: %w", err)
	}
	return card, nil
}

// MoveCard reassigns the card's column and appends it to the end of the
// target column. Ranks in the vacated column are left as-is: gaps are
// tolerated, only uniqueness within a column matters. Last write wins.
func (s *PostgresStore) MoveCard(ctx context.Context, cardID, column string) (KanbanCard, error) {
	var card KanbanCard
	err := s.db.QueryRowContext(ctx, `
		UPDATE kanban_cards c
		SET board_column=$2,
			rank=(SELECT COALESCE(MAX(k.rank)+1, 0) FROM kanban_cards k WHERE k.idea_id=c.idea_id AND k.board_column=$2 AND k.id<>c.id)
		WHERE c.id=$1
		RETURNING id, idea_id, title, description, board_column, rank, assignee_id, created_at
	`, cardID, column).Scan(&card.ID, &card.IdeaID, &card.Title, &card.Description, &card.Column, &card.Rank, &card.AssigneeID, &card.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return KanbanCard{}, ErrNotFound
	}
	if err != nil {
		return KanbanCard{}, fmt.Errorf("move card: %w", err)
	}
	return card, nil
}

func (s *PostgresStore) ListCardsForIdea(ctx context.Context, ideaID string) ([]KanbanCard, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, idea_id, title, description, board_column, rank, assignee_id, created_at
		FROM kanban_cards
		WHERE idea_id=$1
		ORDER BY board_column ASC, rank ASC
	`, ideaID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	items := make([]KanbanCard, 0)
	for rows.Next() {
		var card KanbanCard
		if err := rows.Scan(&card.ID, &card.IdeaID, &card.Title, &card.Description, &card.Column, &card.Rank, &card.AssigneeID, &card.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		items = append(items, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return items, nil
}

// ---- skills ----

func (s *PostgresStore) InsertSkill(ctx context.Context, skill Skill) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO skills (id, name) VALUES ($1, $2)`, skill.ID, skill.Name)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert skill: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSkills(ctx context.Context) ([]Skill, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM skills ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	items := make([]Skill, 0)
	for rows.Next() {
		var skill Skill
		if err := rows.Scan(&skill.ID, &skill.Name); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		items = append(items, skill)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate skills: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListIdeaSkills(ctx context.Context, ideaID string) ([]SkillRequirement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT isk.idea_id, isk.skill_id, isk.level, sk.name
		FROM idea_skills isk
		JOIN skills sk ON sk.id = isk.skill_id
		WHERE isk.idea_id=$1
		ORDER BY sk.name ASC
	`, ideaID)
	if err != nil {
		return nil, fmt.Errorf("list idea skills: %w", err)
	}
	defer rows.Close()

	items := make([]SkillRequirement, 0)
	for rows.Next() {
		var item SkillRequirement
		if err := rows.Scan(&item.IdeaID, &item.SkillID, &item.Level, &item.SkillName); err != nil {
			return nil, fmt.Errorf("scan idea skill: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate idea skills: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertUserSkill(ctx context.Context, userID, skillID, level string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_skills (user_id, skill_id, level)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, skill_id) DO UPDATE SET level=EXCLUDED.level
	`, userID, skillID, level)
	if err != nil {
		return fmt.Errorf("upsert user skill: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteUserSkill(ctx context.Context, userID, skillID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM user_skills WHERE user_id=$1 AND skill_id=$2`, userID, skillID)
	if err != nil {
		return fmt.Errorf("delete user skill: %w", err)
	}
	return checkAffected(result)
}

func (s *PostgresStore) ListUserSkills(ctx context.Context, userID string) ([]UserSkill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT us.user_id, us.skill_id, us.level, sk.name
		FROM user_skills us
		JOIN skills sk ON sk.id = us.skill_id
		WHERE us.user_id=$1
		ORDER BY sk.name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user skills: %w", err)
	}
	defer rows.Close()

	items := make([]UserSkill, 0)
	for rows.Next() {
		var item UserSkill
		if err := rows.Scan(&item.UserID, &item.SkillID, &item.Level, &item.SkillName); err != nil {
			return nil, fmt.Errorf("scan user skill: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user skills: %w", err)
	}
	return items, nil
}

// ---- sessions ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email, u.name, u.bio, u.department, u.role, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&user.ID, &user.Email, &user.Name, &user.Bio, &user.Department, &user.Role, &user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func checkAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
