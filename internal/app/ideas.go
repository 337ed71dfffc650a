package app

import (
	"context"
	"net/http"
	"strings"

	"ideahub/api/internal/rbac"
	"ideahub/api/internal/search"
	"ideahub/api/internal/store"
	"ideahub/api/internal/util"
)

type IdeaSkillInput struct {
	SkillID string `json:"skillId" validate:"required"`
	Level   string `json:"level" validate:"omitempty,oneof=BEGINNER INTERMEDIATE EXPERT"`
}

type CreateIdeaInput struct {
	Title       string           `json:"title" validate:"required,max=200"`
	Description string           `json:"description" validate:"max=5000"`
	LongRunning bool             `json:"longRunning"`
	Skills      []IdeaSkillInput `json:"skills" validate:"dive"`
}

// CreateIdea creates the idea and its OWNER membership in one atomic unit.
func (s *Service) CreateIdea(ctx context.Context, session Session, input CreateIdeaInput) (map[string]any, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	idea := store.Idea{
		ID:          util.NewID("idea"),
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Status:      "PITCH",
		LongRunning: input.LongRunning,
		OwnerID:     session.UserID,
	}

	skills := make([]store.SkillRequirement, 0, len(input.Skills))
	for _, sk := range input.Skills {
		level := sk.Level
		if level == "" {
			level = "BEGINNER"
		}
		skills = append(skills, store.SkillRequirement{
			IdeaID:  idea.ID,
			SkillID: sk.SkillID,
			Level:   level,
		})
	}

	if err := s.store.CreateIdeaWithOwner(ctx, idea, skills); err != nil {
		return nil, err
	}
	s.indexIdea(idea)

	return ideaPayload(idea), nil
}

func (s *Service) ListIdeas(ctx context.Context) ([]map[string]any, error) {
	summaries, err := s.store.ListIdeas(ctx)
	if err != nil {
		return nil, err
	}

	payload := make([]map[string]any, 0, len(summaries))
	for _, summary := range summaries {
		item := ideaPayload(summary.Idea)
		item["ownerName"] = summary.OwnerName
		item["memberCount"] = summary.MemberCount
		item["pendingRequests"] = summary.PendingRequests
		payload = append(payload, item)
	}
	return payload, nil
}

// GetIdeaDetail returns the idea with members, skill requirements, and — for
// reviewers — its join requests.
func (s *Service) GetIdeaDetail(ctx context.Context, session Session, ideaID string) (map[string]any, error) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}

	members, err := s.store.ListMembers(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	skills, err := s.store.ListIdeaSkills(ctx, ideaID)
	if err != nil {
		return nil, err
	}

	memberPayloads := make([]map[string]any, 0, len(members))
	for _, m := range members {
		memberPayloads = append(memberPayloads, map[string]any{
			"userId":   m.UserID,
			"name":     m.UserName,
			"email":    m.UserEmail,
			"role":     m.Role,
			"joinedAt": m.JoinedAt,
		})
	}

	skillPayloads := make([]map[string]any, 0, len(skills))
	for _, sk := range skills {
		skillPayloads = append(skillPayloads, map[string]any{
			"skillId": sk.SkillID,
			"name":    sk.SkillName,
			"level":   sk.Level,
		})
	}

	payload := ideaPayload(idea)
	payload["members"] = memberPayloads
	payload["skills"] = skillPayloads

	if rbac.CanReviewJoinRequests(session.principal(), idea.OwnerID) {
		requests, err := s.store.ListJoinRequestsForIdea(ctx, ideaID)
		if err != nil {
			return nil, err
		}
		requestPayloads := make([]map[string]any, 0, len(requests))
		for _, request := range requests {
			requestPayloads = append(requestPayloads, requestPayload(request))
		}
		payload["joinRequests"] = requestPayloads
	}

	return payload, nil
}

// SetIdeaStatus validates the status against the enumerated set and writes
// it unconditionally: any status may follow any other. COMPLETED → PITCH is
// accepted on purpose; there is no transition matrix.
func (s *Service) SetIdeaStatus(ctx context.Context, session Session, ideaID, status string) (map[string]any, error) {
	if _, ok := allowedIdeaStatuses[status]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown idea status", map[string]string{"status": status})
	}

	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanManageIdea(session.principal(), idea.OwnerID) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	if err := s.store.UpdateIdeaStatus(ctx, ideaID, status); err != nil {
		return nil, err
	}
	idea.Status = status
	s.indexIdea(idea)

	return ideaPayload(idea), nil
}

// SetLongRunning is an idempotent flag write, owner/admin only.
func (s *Service) SetLongRunning(ctx context.Context, session Session, ideaID string, flag bool) (map[string]any, error) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanManageIdea(session.principal(), idea.OwnerID) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	if err := s.store.UpdateIdeaLongRunning(ctx, ideaID, flag); err != nil {
		return nil, err
	}
	idea.LongRunning = flag

	return ideaPayload(idea), nil
}

func (s *Service) indexIdea(idea store.Idea) {
	if s.search == nil {
		return
	}
	s.search.IndexIdea(search.IdeaRecord{
		ID:          idea.ID,
		Title:       idea.Title,
		Description: idea.Description,
		Status:      idea.Status,
	})
}

func ideaPayload(idea store.Idea) map[string]any {
	return map[string]any{
		"id":          idea.ID,
		"title":       idea.Title,
		"description": idea.Description,
		"status":      idea.Status,
		"longRunning": idea.LongRunning,
		"ownerId":     idea.OwnerID,
		"createdAt":   idea.CreatedAt,
	}
}
