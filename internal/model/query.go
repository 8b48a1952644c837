package model

// QueryContext is the transient, non-persisted input to the retrieval
// pipeline: a writing position plus enough surrounding text to disambiguate
// the focus sentence.
type QueryContext struct {
	CurrentSentence  string `json:"currentSentence"`
	PreviousSentence string `json:"previousSentence,omitempty"`
	NextSentence     string `json:"nextSentence,omitempty"`
	Paragraph        string `json:"paragraph,omitempty"`
	CursorPosition   *int   `json:"cursorPosition,omitempty"`
}

// SearchStrategy selects which candidate-retrieval branches run.
type SearchStrategy string

const (
	StrategyVector SearchStrategy = "vector"
	StrategyBM25   SearchStrategy = "bm25"
	StrategyHybrid SearchStrategy = "hybrid"
)

// Preferences is the closed, validated form of the wire-level "preferences"
// blob (spec §9: dynamic config objects become an enumerated option struct;
// unknown fields are rejected by the decoder, not silently accepted).
type Preferences struct {
	UseEnhanced    bool           `json:"useEnhanced"`
	UseReranking   bool           `json:"useReranking"`
	SearchStrategy SearchStrategy `json:"searchStrategy"`
}

// DefaultPreferences matches the pipeline's default behavior when a session
// has not yet sent update_preferences.
func DefaultPreferences() Preferences {
	return Preferences{
		UseEnhanced:    true,
		UseReranking:   true,
		SearchStrategy: StrategyHybrid,
	}
}

// CitationStyle controls how a suggestion's displayText is meant to be rendered.
type CitationStyle string

const (
	CitationInline   CitationStyle = "inline"
	CitationFootnote CitationStyle = "footnote"
)

// ScoreBreakdown carries the per-stage scores that fed a suggestion's confidence.
type ScoreBreakdown struct {
	Vector  *float64 `json:"vector,omitempty"`
	Lexical *float64 `json:"lexical,omitempty"`
	Fused   *float64 `json:"fused,omitempty"`
	Rerank  *float64 `json:"rerank,omitempty"`
}

// Suggestion is a transient result record emitted to a session, owned by the
// emitting session for the duration of one outbound message.
type Suggestion struct {
	PaperID       string        `json:"paperId"`
	Title         string        `json:"title"`
	Authors       []string      `json:"authors"`
	Year          *int          `json:"year,omitempty"`
	Abstract      string        `json:"abstract,omitempty"`
	Confidence    float64       `json:"confidence"`
	CitationStyle CitationStyle `json:"citationStyle"`
	DisplayText   string        `json:"displayText"`
	ChunkID       string        `json:"chunkId,omitempty"`
	ChunkPreview  string        `json:"chunkPreview,omitempty"`
	ChunkSection  string        `json:"chunkSection,omitempty"`
	ChunkOrdinal  *int          `json:"chunkOrdinal,omitempty"`
	Scores        ScoreBreakdown `json:"scores"`
}

// Diagnostics records soft degradations that occurred while producing a
// suggestion set — never errors, just reduced-confidence signals for the client.
type Diagnostics struct {
	VectorTimedOut  bool `json:"vectorTimedOut,omitempty"`
	BM25TimedOut    bool `json:"bm25TimedOut,omitempty"`
	LexicalDegraded bool `json:"lexicalDegraded,omitempty"`
	RerankSkipped   bool `json:"rerankSkipped,omitempty"`
}

// SuggestionSet is the full result of one suggest() pipeline run.
type SuggestionSet struct {
	Results     []Suggestion `json:"results"`
	Diagnostics Diagnostics  `json:"diagnostics"`
}
