package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ideahub/api/internal/store"
)

// memStore is an in-memory dataStore for tests. The mutex makes the compound
// operations atomic the way the SQL transactions do, so the concurrency
// scenarios exercise the same first-commit-wins behavior.
type memStore struct {
	mu sync.Mutex

	users      map[string]store.User
	ideas      map[string]store.Idea
	ideaOrder  []string
	members    map[string][]store.Membership
	requests   map[string]store.JoinRequest
	reqOrder   []string
	cards      map[string]store.KanbanCard
	skills     map[string]store.Skill
	ideaSkills map[string][]store.SkillRequirement
	userSkills map[string][]store.UserSkill
	refresh    map[string]refreshRecord
	revokedJTI map[string]bool

	seq int
}

type refreshRecord struct {
	userID    string
	expiresAt time.Time
}

func newMemStore() *memStore {
	return &memStore{
		users:      make(map[string]store.User),
		ideas:      make(map[string]store.Idea),
		members:    make(map[string][]store.Membership),
		requests:   make(map[string]store.JoinRequest),
		cards:      make(map[string]store.KanbanCard),
		skills:     make(map[string]store.Skill),
		ideaSkills: make(map[string][]store.SkillRequirement),
		userSkills: make(map[string][]store.UserSkill),
		refresh:    make(map[string]refreshRecord),
		revokedJTI: make(map[string]bool),
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s_%d", prefix, m.seq)
}

func (m *memStore) EnsureUser(_ context.Context, email, name string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	user := store.User{ID: m.nextID("usr"), Email: email, Name: name, Role: "USER", CreatedAt: time.Now()}
	m.users[user.ID] = user
	return user, nil
}

func (m *memStore) CreateUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return store.ErrConflict
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *memStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m *memStore) ListUsers(_ context.Context) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]store.User, 0, len(m.users))
	for _, user := range m.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m *memStore) UpdateUserProfile(_ context.Context, userID, name, bio, department string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.Name, user.Bio, user.Department = name, bio, department
	m.users[userID] = user
	return nil
}

func (m *memStore) SetUserRole(_ context.Context, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.Role = role
	m.users[userID] = user
	return nil
}

func (m *memStore) CreateIdeaWithOwner(_ context.Context, idea store.Idea, skills []store.SkillRequirement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idea.CreatedAt.IsZero() {
		idea.CreatedAt = time.Now()
	}
	m.ideas[idea.ID] = idea
	m.ideaOrder = append(m.ideaOrder, idea.ID)
	m.members[idea.ID] = append(m.members[idea.ID], store.Membership{
		IdeaID:   idea.ID,
		UserID:   idea.OwnerID,
		Role:     "OWNER",
		JoinedAt: time.Now(),
	})
	m.ideaSkills[idea.ID] = skills
	return nil
}

func (m *memStore) GetIdea(_ context.Context, ideaID string) (store.Idea, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idea, ok := m.ideas[ideaID]
	if !ok {
		return store.Idea{}, store.ErrNotFound
	}
	return idea, nil
}

func (m *memStore) ListIdeas(_ context.Context) ([]store.IdeaSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summaries := make([]store.IdeaSummary, 0, len(m.ideaOrder))
	for i := len(m.ideaOrder) - 1; i >= 0; i-- {
		idea := m.ideas[m.ideaOrder[i]]
		pending := 0
		for _, request := range m.requests {
			if request.IdeaID == idea.ID && request.Status == "PENDING" {
				pending++
			}
		}
		summaries = append(summaries, store.IdeaSummary{
			Idea:            idea,
			OwnerName:       m.users[idea.OwnerID].Name,
			MemberCount:     len(m.members[idea.ID]),
			PendingRequests: pending,
		})
	}
	return summaries, nil
}

func (m *memStore) UpdateIdeaStatus(_ context.Context, ideaID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idea, ok := m.ideas[ideaID]
	if !ok {
		return store.ErrNotFound
	}
	idea.Status = status
	m.ideas[ideaID] = idea
	return nil
}

func (m *memStore) UpdateIdeaLongRunning(_ context.Context, ideaID string, flag bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idea, ok := m.ideas[ideaID]
	if !ok {
		return store.ErrNotFound
	}
	idea.LongRunning = flag
	m.ideas[ideaID] = idea
	return nil
}

func (m *memStore) IsMember(_ context.Context, ideaID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isMemberLocked(ideaID, userID), nil
}

func (m *memStore) isMemberLocked(ideaID, userID string) bool {
	for _, member := range m.members[ideaID] {
		if member.UserID == userID {
			return true
		}
	}
	return false
}

func (m *memStore) ListMembers(_ context.Context, ideaID string) ([]store.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := append([]store.Membership(nil), m.members[ideaID]...)
	sort.SliceStable(members, func(i, j int) bool {
		if (members[i].Role == "OWNER") != (members[j].Role == "OWNER") {
			return members[i].Role == "OWNER"
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	for i := range members {
		members[i].UserName = m.users[members[i].UserID].Name
		members[i].UserEmail = m.users[members[i].UserID].Email
	}
	return members, nil
}

func (m *memStore) InsertJoinRequest(_ context.Context, request store.JoinRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.requests {
		if existing.IdeaID == request.IdeaID && existing.UserID == request.UserID && existing.Status == "PENDING" {
			return store.ErrConflict
		}
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now()
	}
	m.requests[request.ID] = request
	m.reqOrder = append(m.reqOrder, request.ID)
	return nil
}

func (m *memStore) GetJoinRequest(_ context.Context, requestID string) (store.JoinRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	request, ok := m.requests[requestID]
	if !ok {
		return store.JoinRequest{}, store.ErrNotFound
	}
	return request, nil
}

func (m *memStore) HasPendingJoinRequest(_ context.Context, ideaID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, request := range m.requests {
		if request.IdeaID == ideaID && request.UserID == userID && request.Status == "PENDING" {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ListJoinRequestsForIdea(_ context.Context, ideaID string) ([]store.JoinRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	requests := make([]store.JoinRequest, 0)
	for i := len(m.reqOrder) - 1; i >= 0; i-- {
		request := m.requests[m.reqOrder[i]]
		if request.IdeaID == ideaID {
			request.UserName = m.users[request.UserID].Name
			requests = append(requests, request)
		}
	}
	return requests, nil
}

func (m *memStore) ListJoinRequestsForUser(_ context.Context, userID string) ([]store.JoinRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	requests := make([]store.JoinRequest, 0)
	for i := len(m.reqOrder) - 1; i >= 0; i-- {
		request := m.requests[m.reqOrder[i]]
		if request.UserID == userID {
			request.IdeaTitle = m.ideas[request.IdeaID].Title
			requests = append(requests, request)
		}
	}
	return requests, nil
}

// DecideJoinRequest mirrors the transactional store: the status flip and the
// membership insert succeed or fail together.
func (m *memStore) DecideJoinRequest(_ context.Context, requestID, outcome string) (store.JoinRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	request, ok := m.requests[requestID]
	if !ok {
		return store.JoinRequest{}, store.ErrNotFound
	}
	if request.Status != "PENDING" {
		return store.JoinRequest{}, store.ErrConflict
	}
	if outcome == "ACCEPTED" {
		if m.isMemberLocked(request.IdeaID, request.UserID) {
			// Membership appeared through another path; the request
			// stays PENDING.
			return store.JoinRequest{}, store.ErrConflict
		}
		m.members[request.IdeaID] = append(m.members[request.IdeaID], store.Membership{
			IdeaID:   request.IdeaID,
			UserID:   request.UserID,
			Role:     "CONTRIBUTOR",
			JoinedAt: time.Now(),
		})
	}
	now := time.Now()
	request.Status = outcome
	request.DecidedAt = &now
	m.requests[requestID] = request
	return request, nil
}

func (m *memStore) InsertCard(_ context.Context, card store.KanbanCard) (store.KanbanCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	card.Rank = m.nextRankLocked(card.IdeaID, card.Column, "")
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now()
	}
	m.cards[card.ID] = card
	return card, nil
}

func (m *memStore) nextRankLocked(ideaID, column, excludeCardID string) int {
	rank := -1
	for _, card := range m.cards {
		if card.IdeaID == ideaID && card.Column == column && card.ID != excludeCardID && card.Rank > rank {
			rank = card.Rank
		}
	}
	return rank + 1
}

func (m *memStore) GetCard(_ context.Context, cardID string) (store.KanbanCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	card, ok := m.cards[cardID]
	if !ok {
		return store.KanbanCard{}, store.ErrNotFound
	}
	return card, nil
}

func (m *memStore) MoveCard(_ context.Context, cardID, column string) (store.KanbanCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	card, ok := m.cards[cardID]
	if !ok {
		return store.KanbanCard{}, store.ErrNotFound
	}
	card.Column = column
	card.Rank = m.nextRankLocked(card.IdeaID, column, card.ID)
	m.cards[cardID] = card
	return card, nil
}

func (m *memStore) ListCardsForIdea(_ context.Context, ideaID string) ([]store.KanbanCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cards := make([]store.KanbanCard, 0)
	for _, card := range m.cards {
		if card.IdeaID == ideaID {
			cards = append(cards, card)
		}
	}
	sort.Slice(cards, func(i, j int) bool {
		if cards[i].Column != cards[j].Column {
			return cards[i].Column < cards[j].Column
		}
		return cards[i].Rank < cards[j].Rank
	})
	return cards, nil
}

func (m *memStore) InsertSkill(_ context.Context, skill store.Skill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.skills {
		if existing.Name == skill.Name {
			return store.ErrConflict
		}
	}
	m.skills[skill.ID] = skill
	return nil
}

func (m *memStore) ListSkills(_ context.Context) ([]store.Skill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	skills := make([]store.Skill, 0, len(m.skills))
	for _, skill := range m.skills {
		skills = append(skills, skill)
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills, nil
}

func (m *memStore) ListIdeaSkills(_ context.Context, ideaID string) ([]store.SkillRequirement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	skills := append([]store.SkillRequirement(nil), m.ideaSkills[ideaID]...)
	for i := range skills {
		skills[i].SkillName = m.skills[skills[i].SkillID].Name
	}
	return skills, nil
}

func (m *memStore) UpsertUserSkill(_ context.Context, userID, skillID, level string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, us := range m.userSkills[userID] {
		if us.SkillID == skillID {
			m.userSkills[userID][i].Level = level
			return nil
		}
	}
	m.userSkills[userID] = append(m.userSkills[userID], store.UserSkill{UserID: userID, SkillID: skillID, Level: level})
	return nil
}

func (m *memStore) DeleteUserSkill(_ context.Context, userID, skillID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.userSkills[userID][:0]
	for _, us := range m.userSkills[userID] {
		if us.SkillID != skillID {
			kept = append(kept, us)
		}
	}
	m.userSkills[userID] = kept
	return nil
}

func (m *memStore) ListUserSkills(_ context.Context, userID string) ([]store.UserSkill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	skills := append([]store.UserSkill(nil), m.userSkills[userID]...)
	for i := range skills {
		skills[i].SkillName = m.skills[skills[i].SkillID].Name
	}
	return skills, nil
}

func (m *memStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[tokenHash] = refreshRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *memStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.refresh[tokenHash]
	if !ok || time.Now().After(record.expiresAt) {
		return store.User{}, store.ErrNotFound
	}
	return store.User{ID: record.userID}, nil
}

func (m *memStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refresh, tokenHash)
	return nil
}

func (m *memStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokedJTI[jti] = true
	return nil
}

func (m *memStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revokedJTI[jti], nil
}

func (m *memStore) Ping(_ context.Context) error {
	return nil
}
