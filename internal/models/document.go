package models

// Document is the unit uploaded to the search service for one query's RowSet.
type Document struct {
	ID       string           `json:"id"`
	Title    string           `json:"title"`
	Content  string           `json:"content"`
	Metadata DocumentMetadata `json:"metadata"`
	// Vector is reserved for embedding-based retrieval and left empty by the pipeline.
	Vector []float32 `json:"vector,omitempty"`
}

// DocumentMetadata describes where a document's content came from.
type DocumentMetadata struct {
	Source    string   `json:"source"`
	Query     string   `json:"query"`
	Timestamp int64    `json:"timestamp"` // unix milliseconds
	RowCount  int      `json:"rowCount"`
	Columns   []string `json:"columns"`
}

// SearchHit is a single retrieval result.
type SearchHit struct {
	ID       string           `json:"id"`
	Title    string           `json:"title"`
	Content  string           `json:"content"`
	Metadata DocumentMetadata `json:"metadata"`
	Score    float64          `json:"score"`
}
