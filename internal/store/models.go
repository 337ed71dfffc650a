package store

import "time"

type User struct {
	ID           string
	Email        string
	Name         string
	Bio          string
	Department   string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

type Idea struct {
	ID          string
	Title       string
	Description string
	Status      string
	LongRunning bool
	OwnerID     string
	CreatedAt   time.Time
}

// IdeaSummary carries the list-view joins: owner name plus counts.
type IdeaSummary struct {
	Idea
	OwnerName       string
	MemberCount     int
	PendingRequests int
}

type Membership struct {
	IdeaID   string
	UserID   string
	Role     string
	JoinedAt time.Time
	// Joined for API responses
	UserName  string
	UserEmail string
}

type JoinRequest struct {
	ID        string
	IdeaID    string
	UserID    string
	Status    string
	Message   string
	CreatedAt time.Time
	DecidedAt *time.Time
	// Joined for API responses
	UserName  string
	IdeaTitle string
}

type KanbanCard struct {
	ID          string
	IdeaID      string
	Title       string
	Description string
	Column      string
	Rank        int
	AssigneeID  *string
	CreatedAt   time.Time
}

type Skill struct {
	ID   string
	Name string
}

type SkillRequirement struct {
	IdeaID    string
	SkillID   string
	Level     string
	SkillName string
}

type UserSkill struct {
	UserID    string
	SkillID   string
	Level     string
	SkillName string
}
