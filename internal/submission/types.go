// Package submission splits a complete-submission filing payload into its
// constituent documents. The payload is semi-structured text, not
// well-formed XML: a header block followed by repeated <DOCUMENT> blocks,
// some of which carry uuencoded binary bodies.
package submission

// Raw encodings observed inside <TEXT> payloads.
const (
	EncodingPlain     = "plain"
	EncodingUUEncoded = "uuencoded-binary"
)

// HeaderField is one ordered group/key/value triple from the header block.
type HeaderField struct {
	Group string `json:"group,omitempty"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Document is one document inside a decomposed submission.
type Document struct {
	// SequenceNumber is the 1-based order of appearance; contiguous
	// within one submission.
	SequenceNumber int    `json:"sequence_number"`
	Type           string `json:"type"`
	Description    string `json:"description"`
	Filename       string `json:"filename"`
	RawEncoding    string `json:"raw_encoding"`
	ByteSize       int    `json:"byte_size"`
	Content        []byte `json:"-"`
	// IsPrimary is set by IdentifyPrimary on exactly one document.
	IsPrimary bool `json:"is_primary"`
	// ParseError marks a document kept with empty fields after a local
	// parse failure.
	ParseError bool `json:"parse_error,omitempty"`
}

// Result is the outcome of decomposing one submission.
type Result struct {
	Header    []HeaderField `json:"header"`
	Documents []Document    `json:"documents"`
	// Warnings aggregates recovered per-document parse errors.
	Warnings []string `json:"warnings,omitempty"`
}
