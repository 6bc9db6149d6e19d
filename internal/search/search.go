package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Snippet     string `json:"snippet"`
	OwnerID     string `json:"ownerId"`
	RoomID      string `json:"roomId,omitempty"`
	ForkPath    string `json:"forkPath"`
	Version     int    `json:"version"`
	ContentType string `json:"contentType"`
}

// Query describes a search request. UserID and RoomIDs bound visibility: a
// hit must be owned by the user or live in one of the listed rooms.
type Query struct {
	Text         string
	UserID       string
	RoomIDs      []string
	FilterRoomID string
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

// DocumentRecord is the data we index for a document revision.
type DocumentRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	OwnerID     string `json:"ownerId"`
	RoomID      string `json:"roomId"`
	ForkPath    string `json:"forkPath"`
	Version     int    `json:"version"`
	ContentType string `json:"contentType"`
}
