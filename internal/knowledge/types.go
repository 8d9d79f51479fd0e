package knowledge

// GroundedRequest asks for an answer constrained to one corpus. The prompt
// template carries two placeholders: $search_results$ and $query$.
type GroundedRequest struct {
	QueryText      string
	CorpusID       string
	ModelID        string
	PromptTemplate string
}

type GroundedResult struct {
	OutputText string
	Citations  []Citation
}

// Citation ties a part of the generated text to the references that support
// it. Any pointer may be nil.
type Citation struct {
	GeneratedResponsePart *ResponsePart        `json:"generatedResponsePart,omitempty"`
	RetrievedReferences   []RetrievedReference `json:"retrievedReferences,omitempty"`
}

type ResponsePart struct {
	TextResponsePart *TextPart `json:"textResponsePart,omitempty"`
}

type TextPart struct {
	Text string `json:"text"`
}

type RetrievedReference struct {
	Content  *ReferenceContent  `json:"content,omitempty"`
	Location *ReferenceLocation `json:"location,omitempty"`
	Metadata map[string]any     `json:"metadata,omitempty"`
}

type ReferenceContent struct {
	Text string `json:"text"`
}

type ReferenceLocation struct {
	URI string `json:"uri"`
}

const (
	MetadataPage  = "page"
	MetadataScore = "score"
)
