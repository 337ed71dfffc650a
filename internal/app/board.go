package app

import (
	"context"
	"net/http"
	"strings"

	"ideahub/api/internal/rbac"
	"ideahub/api/internal/store"
	"ideahub/api/internal/util"
)

var boardColumns = []string{"BACKLOG", "IN_PROGRESS", "DONE"}

type CreateCardInput struct {
	IdeaID      string  `json:"ideaId" validate:"required"`
	Title       string  `json:"title" validate:"required,max=200"`
	Description string  `json:"description" validate:"max=2000"`
	Column      string  `json:"column" validate:"omitempty,oneof=BACKLOG IN_PROGRESS DONE"`
	AssigneeID  *string `json:"assigneeId"`
}

type MoveCardInput struct {
	Column string `json:"column" validate:"required,oneof=BACKLOG IN_PROGRESS DONE"`
}

// GetBoard returns the idea's cards grouped by column, rank ascending. All
// three columns are present in the payload even when empty.
func (s *Service) GetBoard(ctx context.Context, session Session, ideaID string) (map[string]any, error) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}

	cards, err := s.store.ListCardsForIdea(ctx, idea.ID)
	if err != nil {
		return nil, err
	}

	columns := make(map[string][]map[string]any, len(boardColumns))
	for _, column := range boardColumns {
		columns[column] = []map[string]any{}
	}
	for _, card := range cards {
		columns[card.Column] = append(columns[card.Column], cardPayload(card))
	}

	return map[string]any{
		"ideaId":  idea.ID,
		"columns": columns,
	}, nil
}

// CreateCard appends a card at the end of the target column. The rank is
// computed inside the INSERT, so concurrent creates get distinct ranks.
func (s *Service) CreateCard(ctx context.Context, session Session, input CreateCardInput) (map[string]any, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	idea, err := s.store.GetIdea(ctx, input.IdeaID)
	if err != nil {
		return nil, err
	}
	isMember, err := s.store.IsMember(ctx, idea.ID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanUseBoard(session.principal(), isMember) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	column := input.Column
	if column == "" {
		column = "BACKLOG"
	}

	card, err := s.store.InsertCard(ctx, store.KanbanCard{
		ID:          util.NewID("card"),
		IdeaID:      idea.ID,
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Column:      column,
		AssigneeID:  input.AssigneeID,
	})
	if err != nil {
		return nil, err
	}

	return cardPayload(card), nil
}

// MoveCard reassigns the card's column, appending it to the end of the
// target column. The vacated column's ranks are not renumbered; concurrent
// moves of the same card are last-write-wins.
func (s *Service) MoveCard(ctx context.Context, session Session, cardID string, input MoveCardInput) (map[string]any, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	isMember, err := s.store.IsMember(ctx, card.IdeaID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanUseBoard(session.principal(), isMember) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	moved, err := s.store.MoveCard(ctx, cardID, input.Column)
	if err != nil {
		return nil, err
	}

	return cardPayload(moved), nil
}

func cardPayload(card store.KanbanCard) map[string]any {
	payload := map[string]any{
		"id":          card.ID,
		"ideaId":      card.IdeaID,
		"title":       card.Title,
		"description": card.Description,
		"column":      card.Column,
		"rank":        card.Rank,
		"createdAt":   card.CreatedAt,
	}
	if card.AssigneeID != nil {
		payload["assigneeId"] = *card.AssigneeID
	}
	return payload
}
