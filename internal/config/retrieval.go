package config

// Retrieval tuning defaults. The chunk sizes mirror what works well for large
// workshop manuals: children small enough for precise matching, with enough
// overlap that a procedure step never straddles a boundary invisibly.
const (
	// DefaultChunkSize is the child chunk window in characters.
	DefaultChunkSize = 2400

	// DefaultChunkOverlap is the fixed overlap between consecutive children.
	DefaultChunkOverlap = 400

	// DefaultVectorK is how many nearest neighbours the vector ranking returns.
	DefaultVectorK = 100

	// DefaultKeywordK is how many hits the keyword (BM25) ranking returns.
	DefaultKeywordK = 100

	// DefaultChildK is the fused candidate count handed to context expansion.
	DefaultChildK = 50

	// DefaultTopK is the final number of reranked context items.
	DefaultTopK = 10

	// DefaultRerankMaxChars caps candidate text sent to the cross-encoder.
	DefaultRerankMaxChars = 2000
)

// RetrievalConfig tunes the ingestion chunker and the hybrid search pipeline.
type RetrievalConfig struct {
	// ChunkSize is the child chunk window in characters.
	ChunkSize int `mapstructure:"chunk_size" json:"chunk_size"`

	// ChunkOverlap is the fixed character overlap between consecutive children
	// of the same parent. Must be smaller than ChunkSize.
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// VectorK / KeywordK size the two sub-rankings fed into RRF fusion.
	VectorK  int `mapstructure:"vector_k" json:"vector_k"`
	KeywordK int `mapstructure:"keyword_k" json:"keyword_k"`

	// ChildK is the fused candidate count retained after fusion.
	ChildK int `mapstructure:"child_k" json:"child_k"`

	// TopK is the final context item count after reranking.
	TopK int `mapstructure:"top_k" json:"top_k"`
}

// RerankerConfig configures the cross-encoder rerank endpoint.
// An empty URL disables reranking; retrieval then keeps the fused order.
type RerankerConfig struct {
	URL      string `mapstructure:"url" json:"url"`
	Model    string `mapstructure:"model" json:"model"`
	MaxChars int    `mapstructure:"max_chars" json:"max_chars"`
}
