package search

import "context"

// Result is a single search hit. Only the id is authoritative; callers
// re-read the message from the store before showing it.
type Result struct {
	ID      string `json:"id"`
	Author  string `json:"author"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Author string // empty = any author
	Limit  int
	Offset int
}

// Response is the envelope returned by Service.Search.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// IDs lists the hit ids in rank order.
func (r Response) IDs() []string {
	ids := make([]string, 0, len(r.Results))
	for _, result := range r.Results {
		ids = append(ids, result.ID)
	}
	return ids
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push messages into a search index.
type Indexer interface {
	IndexMessages(ctx context.Context, records []MessageRecord) error
}

// RecordLoader reads every searchable message for a full reindex.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]MessageRecord, error)
}

// MessageRecord is the data we index for a public post or blog.
type MessageRecord struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}
