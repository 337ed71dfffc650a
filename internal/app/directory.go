package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"ideahub/api/internal/rbac"
	"ideahub/api/internal/search"
	"ideahub/api/internal/store"
	"ideahub/api/internal/util"
)

type UpdateProfileInput struct {
	Name       *string `json:"name" validate:"omitempty,max=120"`
	Bio        *string `json:"bio" validate:"omitempty,max=2000"`
	Department *string `json:"department" validate:"omitempty,max=120"`
	Role       *string `json:"role" validate:"omitempty,oneof=USER ADMIN"`
}

type CreateSkillInput struct {
	Name string `json:"name" validate:"required,max=80"`
}

type UserSkillInput struct {
	SkillID string `json:"skillId" validate:"required"`
	Level   string `json:"level" validate:"omitempty,oneof=BEGINNER INTERMEDIATE EXPERT"`
}

func (s *Service) ListUsers(ctx context.Context) ([]map[string]any, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(users))
	for _, user := range users {
		payload = append(payload, userPayload(user))
	}
	return payload, nil
}

func (s *Service) GetUserProfile(ctx context.Context, userID string) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	skills, err := s.store.ListUserSkills(ctx, userID)
	if err != nil {
		return nil, err
	}

	skillPayloads := make([]map[string]any, 0, len(skills))
	for _, sk := range skills {
		skillPayloads = append(skillPayloads, map[string]any{
			"skillId": sk.SkillID,
			"name":    sk.SkillName,
			"level":   sk.Level,
		})
	}

	payload := userPayload(user)
	payload["skills"] = skillPayloads
	return payload, nil
}

// UpdateUserProfile updates profile fields (self or admin) and, when a role
// change is requested, enforces the admin-only gate separately.
func (s *Service) UpdateUserProfile(ctx context.Context, session Session, userID string, input UpdateProfileInput) (map[string]any, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	principal := session.principal()
	if input.Name != nil || input.Bio != nil || input.Department != nil {
		if !rbac.CanEditProfile(principal, user.ID) {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
		name, bio, department := user.Name, user.Bio, user.Department
		if input.Name != nil {
			name = strings.TrimSpace(*input.Name)
		}
		if input.Bio != nil {
			bio = strings.TrimSpace(*input.Bio)
		}
		if input.Department != nil {
			department = strings.TrimSpace(*input.Department)
		}
		if err := s.store.UpdateUserProfile(ctx, user.ID, name, bio, department); err != nil {
			return nil, err
		}
		user.Name, user.Bio, user.Department = name, bio, department
	}

	if input.Role != nil {
		if !rbac.CanChangeUserRole(principal) {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
		if err := s.store.SetUserRole(ctx, user.ID, *input.Role); err != nil {
			return nil, err
		}
		user.Role = *input.Role
	}

	if s.search != nil {
		s.search.IndexUser(search.UserRecord{
			ID:         user.ID,
			Name:       user.Name,
			Bio:        user.Bio,
			Department: user.Department,
		})
	}

	return userPayload(user), nil
}

func (s *Service) ListSkills(ctx context.Context) ([]map[string]any, error) {
	skills, err := s.store.ListSkills(ctx)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(skills))
	for _, skill := range skills {
		payload = append(payload, map[string]any{"id": skill.ID, "name": skill.Name})
	}
	return payload, nil
}

func (s *Service) CreateSkill(ctx context.Context, session Session, input CreateSkillInput) (map[string]any, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	skill := store.Skill{ID: util.NewID("skl"), Name: strings.TrimSpace(input.Name)}
	if err := s.store.InsertSkill(ctx, skill); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domainError(http.StatusConflict, "CONFLICT", "Skill already exists", nil)
		}
		return nil, err
	}

	if s.search != nil {
		s.search.IndexSkill(search.SkillRecord{ID: skill.ID, Name: skill.Name})
	}

	return map[string]any{"id": skill.ID, "name": skill.Name}, nil
}

// SetUserSkill assigns a skill level on the caller's own profile.
func (s *Service) SetUserSkill(ctx context.Context, session Session, userID string, input UserSkillInput) error {
	if err := s.validateInput(input); err != nil {
		return err
	}
	if !rbac.CanEditProfile(session.principal(), userID) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	level := input.Level
	if level == "" {
		level = "BEGINNER"
	}
	return s.store.UpsertUserSkill(ctx, userID, input.SkillID, level)
}

func (s *Service) RemoveUserSkill(ctx context.Context, session Session, userID, skillID string) error {
	if !rbac.CanEditProfile(session.principal(), userID) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return s.store.DeleteUserSkill(ctx, userID, skillID)
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":         user.ID,
		"email":      user.Email,
		"name":       user.Name,
		"bio":        user.Bio,
		"department": user.Department,
		"role":       user.Role,
		"createdAt":  user.CreatedAt,
	}
}
