package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"ideahub/api/internal/rbac"
	"ideahub/api/internal/store"
	"ideahub/api/internal/util"
)

type SubmitJoinRequestInput struct {
	Message string `json:"message" validate:"max=2000"`
}

type DecideJoinRequestInput struct {
	Outcome string `json:"outcome" validate:"required,oneof=ACCEPTED REJECTED"`
}

// SubmitJoinRequest creates a PENDING request. Members (the owner included)
// are rejected with Conflict, as is a duplicate pending request; the partial
// unique index backs the second check under concurrency.
func (s *Service) SubmitJoinRequest(ctx context.Context, session Session, ideaID string, input SubmitJoinRequestInput) (map[string]any, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}

	isMember, err := s.store.IsMember(ctx, idea.ID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanSubmitJoinRequest(session.principal(), isMember) {
		return nil, domainError(http.StatusConflict, "CONFLICT", "You are already a member of this idea", nil)
	}

	pending, err := s.store.HasPendingJoinRequest(ctx, idea.ID, session.UserID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, domainError(http.StatusConflict, "CONFLICT", "You already have a pending request for this idea", nil)
	}

	request := store.JoinRequest{
		ID:      util.NewID("jrq"),
		IdeaID:  idea.ID,
		UserID:  session.UserID,
		Status:  "PENDING",
		Message: strings.TrimSpace(input.Message),
	}
	if err := s.store.InsertJoinRequest(ctx, request); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domainError(http.StatusConflict, "CONFLICT", "You already have a pending request for this idea", nil)
		}
		return nil, err
	}

	return requestPayload(request), nil
}

// DecideJoinRequest moves a PENDING request to a terminal state. Acceptance
// and the contributor membership commit in one transaction; a request that
// is no longer PENDING fails with Conflict, as does a concurrent membership
// (in which case the request stays PENDING).
func (s *Service) DecideJoinRequest(ctx context.Context, session Session, requestID string, input DecideJoinRequestInput) (map[string]any, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	request, err := s.store.GetJoinRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	idea, err := s.store.GetIdea(ctx, request.IdeaID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanReviewJoinRequests(session.principal(), idea.OwnerID) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	decided, err := s.store.DecideJoinRequest(ctx, requestID, input.Outcome)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domainError(http.StatusConflict, "CONFLICT", "Request has already been decided", nil)
		}
		return nil, err
	}

	return requestPayload(decided), nil
}

// ListJoinRequestsForIdea is reviewer-only, most recent first.
func (s *Service) ListJoinRequestsForIdea(ctx context.Context, session Session, ideaID string) ([]map[string]any, error) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanReviewJoinRequests(session.principal(), idea.OwnerID) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	requests, err := s.store.ListJoinRequestsForIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(requests))
	for _, request := range requests {
		payload = append(payload, requestPayload(request))
	}
	return payload, nil
}

// ListMyJoinRequests returns the caller's own requests, most recent first.
func (s *Service) ListMyJoinRequests(ctx context.Context, session Session) ([]map[string]any, error) {
	requests, err := s.store.ListJoinRequestsForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(requests))
	for _, request := range requests {
		payload = append(payload, requestPayload(request))
	}
	return payload, nil
}

func requestPayload(request store.JoinRequest) map[string]any {
	payload := map[string]any{
		"id":        request.ID,
		"ideaId":    request.IdeaID,
		"userId":    request.UserID,
		"status":    request.Status,
		"message":   request.Message,
		"createdAt": request.CreatedAt,
	}
	if request.DecidedAt != nil {
		payload["decidedAt"] = request.DecidedAt
	}
	if request.UserName != "" {
		payload["userName"] = request.UserName
	}
	if request.IdeaTitle != "" {
		payload["ideaTitle"] = request.IdeaTitle
	}
	return payload
}
