package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultIdea  ResultType = "idea"
	ResultUser  ResultType = "user"
	ResultSkill ResultType = "skill"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	Status  string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterStatus string     // idea status, empty = all
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexIdea(idea IdeaRecord) error
	IndexUser(u UserRecord) error
	IndexSkill(s SkillRecord) error
	DeleteIdea(id string) error
}

// IdeaRecord is the data we index for an idea.
type IdeaRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// UserRecord is the data we index for a user profile.
type UserRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Bio        string `json:"bio"`
	Department string `json:"department"`
}

// SkillRecord is the data we index for a skill.
type SkillRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
