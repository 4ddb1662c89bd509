package knowledge

import (
	"errors"
	"time"
)

// VectorDimension is the embedding width of the chunks table. The schema
// pins vector(768); embedder models must be configured to match.
const VectorDimension = 768

// Chunk kinds. Children carry manual text, captions carry generated image
// descriptions; both live in the same table and the same vector index.
const (
	KindChild   = "child"
	KindCaption = "caption"
)

// ErrNotFound indicates that a requested row does not exist.
var ErrNotFound = errors.New("knowledge: not found")

// Document is an ingested source file, identified by the SHA-256 fingerprint
// of its raw bytes.
type Document struct {
	Fingerprint string    `json:"fingerprint"`
	Filename    string    `json:"filename"`
	PageCount   int       `json:"page_count"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// Parent is a full structural section, the unit of context handed to answer
// generation.
type Parent struct {
	ID                  string
	DocumentFingerprint string
	Title               string
	Content             string
	CharCount           int
}

// Chunk is an indexed retrieval unit: a child window or an image caption.
type Chunk struct {
	ID                  string
	ParentID            string
	DocumentFingerprint string
	Kind                string
	Title               string
	Content             string
	Embedding           []float32
	Page                int
}

// VectorHit is one row of a vector similarity search, ordered best first.
type VectorHit struct {
	ID         string
	ParentID   string
	Kind       string
	Title      string
	Content    string
	Page       int
	Similarity float64
}

// Stats summarizes knowledge base contents.
type Stats struct {
	Documents int64 `json:"documents"`
	Parents   int64 `json:"parents"`
	Chunks    int64 `json:"chunks"`
	Captions  int64 `json:"captions"`
}
