package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"ideahub/api/internal/auth"
	"ideahub/api/internal/authpw"
	"ideahub/api/internal/config"
	"ideahub/api/internal/rbac"
	"ideahub/api/internal/search"
	"ideahub/api/internal/store"
	"ideahub/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) principal() rbac.Principal {
	return rbac.Principal{ID: s.UserID, Role: rbac.Normalize(s.Role)}
}

var allowedIdeaStatuses = map[string]struct{}{
	"PITCH":     {},
	"ACTIVE":    {},
	"COMPLETED": {},
	"ARCHIVED":  {},
}

var defaultSkills = []string{
	"Backend", "Frontend", "Design", "Data", "Product", "Marketing",
}

// dataStore is the persistence surface the service depends on.
// *store.PostgresStore satisfies it; tests substitute a fake.
type dataStore interface {
	EnsureUser(ctx context.Context, email, name string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	UpdateUserProfile(ctx context.Context, userID, name, bio, department string) error
	SetUserRole(ctx context.Context, userID, role string) error

	CreateIdeaWithOwner(ctx context.Context, idea store.Idea, skills []store.SkillRequirement) error
	GetIdea(ctx context.Context, ideaID string) (store.Idea, error)
	ListIdeas(ctx context.Context) ([]store.IdeaSummary, error)
	UpdateIdeaStatus(ctx context.Context, ideaID, status string) error
	UpdateIdeaLongRunning(ctx context.Context, ideaID string, flag bool) error

	IsMember(ctx context.Context, ideaID, userID string) (bool, error)
	ListMembers(ctx context.Context, ideaID string) ([]store.Membership, error)

	InsertJoinRequest(ctx context.Context, request store.JoinRequest) error
	GetJoinRequest(ctx context.Context, requestID string) (store.JoinRequest, error)
	HasPendingJoinRequest(ctx context.Context, ideaID, userID string) (bool, error)
	ListJoinRequestsForIdea(ctx context.Context, ideaID string) ([]store.JoinRequest, error)
	ListJoinRequestsForUser(ctx context.Context, userID string) ([]store.JoinRequest, error)
	DecideJoinRequest(ctx context.Context, requestID, outcome string) (store.JoinRequest, error)

	InsertCard(ctx context.Context, card store.KanbanCard) (store.KanbanCard, error)
	GetCard(ctx context.Context, cardID string) (store.KanbanCard, error)
	MoveCard(ctx context.Context, cardID, column string) (store.KanbanCard, error)
	ListCardsForIdea(ctx context.Context, ideaID string) ([]store.KanbanCard, error)

	InsertSkill(ctx context.Context, skill store.Skill) error
	ListSkills(ctx context.Context) ([]store.Skill, error)
	ListIdeaSkills(ctx context.Context, ideaID string) ([]store.SkillRequirement, error)
	UpsertUserSkill(ctx context.Context, userID, skillID, level string) error
	DeleteUserSkill(ctx context.Context, userID, skillID string) error
	ListUserSkills(ctx context.Context, userID string) ([]store.UserSkill, error)

	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. Redis when configured, otherwise the
// dataStore's Postgres-backed sessions.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	search   *search.Service
	authpw   *authpw.Service
	validate *validator.Validate
}

// New wires the service. sessions may be nil, in which case refresh tokens
// live in Postgres. searchSvc may be nil when search is not configured.
func New(cfg config.Config, dataStore dataStore, sessions sessionStore, searchSvc *search.Service) *Service {
	if sessions == nil {
		sessions = dataStore
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		search:   searchSvc,
		authpw:   authpw.NewService(dataStore),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// AuthPasswordService exposes the email/password flow to the HTTP layer.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// Bootstrap seeds the skill catalog on an empty database and rebuilds the
// search indexes.
func (s *Service) Bootstrap(ctx context.Context) error {
	skills, err := s.store.ListSkills(ctx)
	if err != nil {
		return err
	}
	if len(skills) == 0 {
		for _, name := range defaultSkills {
			if err := s.store.InsertSkill(ctx, store.Skill{ID: util.NewID("skl"), Name: name}); err != nil {
				if errors.Is(err, store.ErrConflict) {
					continue
				}
				return err
			}
		}
	}

	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

// Login is the principal-resolution boundary for SSO-style callers: the user
// row is upserted by email on first contact.
func (s *Service) Login(ctx context.Context, email, name string) (Session, error) {
	user, err := s.store.EnsureUser(ctx, email, name)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// CreateSession issues tokens for an already-authenticated user id.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the old one is revoked before the new
// session is issued. The user row is re-read so a role change is never
// masked by a stale session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	sessionUser, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, sessionUser.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Search runs the idea/user/skill search; empty when search is not wired.
func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// validateInput runs struct validation and folds failures into the
// VALIDATION_ERROR shape the HTTP layer returns.
func (s *Service) validateInput(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) {
		details := make(map[string]string, len(fieldErrors))
		for _, fe := range fieldErrors {
			details[fe.Field()] = fe.Tag()
		}
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid input", details)
	}
	return err
}
