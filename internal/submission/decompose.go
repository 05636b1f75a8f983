package submission

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/openfilings/edgarfetch/internal/metrics"
)

var (
	documentBlockRe = regexp.MustCompile(`(?is)<DOCUMENT>(.*?)</DOCUMENT>`)
	textBlockRe     = regexp.MustCompile(`(?is)<TEXT>(.*?)</TEXT>`)
	// Nested metadata tags are line-oriented: <TYPE>10-K
	typeTagRe        = regexp.MustCompile(`(?i)<TYPE>([^<\r\n]*)`)
	sequenceTagRe    = regexp.MustCompile(`(?i)<SEQUENCE>([^<\r\n]*)`)
	filenameTagRe    = regexp.MustCompile(`(?i)<FILENAME>([^<\r\n]*)`)
	descriptionTagRe = regexp.MustCompile(`(?i)<DESCRIPTION>([^<\r\n]*)`)
	// uuencoded payloads open with: begin <octal mode> <filename>
	uuBeginRe = regexp.MustCompile(`(?i)^begin\s+[0-7]{3,4}\s+\S`)
)

// Decompose splits a complete-submission payload into its header and
// embedded documents. Parse errors on an individual document never abort
// the rest of the submission; the document is kept with empty fields and
// flagged, and the error is aggregated into Warnings. A submission with no
// recognizable <DOCUMENT> blocks is not an error: the whole payload
// becomes document #1.
func Decompose(raw []byte) (Result, error) {
	text := string(raw)

	var res Result
	header, bodyStart := parseHeader(text)
	res.Header = header
	body := text[bodyStart:]

	blocks := documentBlockRe.FindAllStringSubmatch(body, -1)
	if len(blocks) == 0 {
		content := []byte(strings.TrimSpace(body))
		res.Documents = []Document{{
			SequenceNumber: 1,
			RawEncoding:    EncodingPlain,
			ByteSize:       len(content),
			Content:        content,
		}}
		metrics.ObserveDocument(EncodingPlain)
		return res, nil
	}

	res.Documents = make([]Document, 0, len(blocks))
	for i, match := range blocks {
		doc, err := parseDocument(match[1], i+1)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("document %d: %v", i+1, err))
			doc = Document{SequenceNumber: i + 1, ParseError: true}
		}
		metrics.ObserveDocument(doc.RawEncoding)
		res.Documents = append(res.Documents, doc)
	}
	return res, nil
}

// parseDocument populates one Document shell from a <DOCUMENT> block body.
// Metadata tags are each optional; absent means empty, never fatal.
func parseDocument(block string, seq int) (Document, error) {
	doc := Document{
		SequenceNumber: seq,
		Type:           firstGroup(typeTagRe, block),
		Description:    firstGroup(descriptionTagRe, block),
		Filename:       firstGroup(filenameTagRe, block),
		RawEncoding:    EncodingPlain,
	}
	// The archive's own sequence tag is informational; order of
	// appearance governs so numbers stay contiguous from 1.
	_ = firstGroup(sequenceTagRe, block)

	textMatch := textBlockRe.FindStringSubmatch(block)
	if textMatch == nil {
		// No payload is unusual but representable.
		return doc, nil
	}
	payload := strings.Trim(textMatch[1], "\r\n")

	if uuBeginRe.MatchString(strings.TrimSpace(firstLine(payload))) {
		decoded, filename, err := uudecode(payload)
		if err != nil {
			return Document{}, fmt.Errorf("uudecode: %w", err)
		}
		doc.RawEncoding = EncodingUUEncoded
		doc.Content = decoded
		doc.ByteSize = len(decoded)
		if doc.Filename == "" {
			doc.Filename = filename
		}
		return doc, nil
	}

	doc.Content = []byte(payload)
	doc.ByteSize = len(payload)
	return doc, nil
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
