package submission

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// primaryDensityRatio is the element-density threshold at which the most
// element-rich document beats a larger form-matching one. Inherited from
// long-standing behavior; tunable, but changing it changes which document
// downstream consumers see as the report.
const primaryDensityRatio = 10.0

// IdentifyPrimary flags exactly one document as the substantive report.
// Filings often bundle boilerplate exhibits that are larger or more
// element-rich than the actual primary report, so the choice triangulates
// three candidates: the document with the most rendered HTML elements, the
// largest form-type-matching document, and the largest document overall.
// An explicit caller override by sequence number always wins. The input
// slice is modified in place and the primary index returned; -1 when docs
// is empty.
func IdentifyPrimary(docs []Document, formType string, overrideSeq int) int {
	if len(docs) == 0 {
		return -1
	}
	for i := range docs {
		docs[i].IsPrimary = false
	}

	if overrideSeq > 0 {
		for i := range docs {
			if docs[i].SequenceNumber == overrideSeq {
				docs[i].IsPrimary = true
				return i
			}
		}
	}

	var (
		maxDoc       = -1 // most rendered elements
		formMatch    = -1 // form-matching description, largest by size
		maxSizeDoc   = -1 // largest raw byte size
		elementCount = make([]int, len(docs))
	)
	for i := range docs {
		elementCount[i] = countElements(docs[i].Content)
		if maxDoc < 0 || elementCount[i] > elementCount[maxDoc] {
			maxDoc = i
		}
		if maxSizeDoc < 0 || docs[i].ByteSize > docs[maxSizeDoc].ByteSize {
			maxSizeDoc = i
		}
		if formType != "" && strings.Contains(strings.ToLower(docs[i].Description), strings.ToLower(formType)) {
			if formMatch < 0 || docs[i].ByteSize > docs[formMatch].ByteSize {
				formMatch = i
			}
		}
	}

	pick := choosePrimary(docs, elementCount, maxDoc, formMatch, maxSizeDoc)
	docs[pick].IsPrimary = true
	return pick
}

func choosePrimary(docs []Document, elementCount []int, maxDoc, formMatch, maxSizeDoc int) int {
	if formMatch < 0 {
		// Nothing matched the requested form; the largest document is
		// the least bad guess.
		return maxSizeDoc
	}
	if maxDoc == formMatch && formMatch == maxSizeDoc {
		return formMatch
	}

	density := float64(elementCount[maxDoc]) / float64(elementCount[formMatch]+1)
	if density > primaryDensityRatio && docs[maxDoc].ByteSize < docs[formMatch].ByteSize {
		return maxDoc
	}
	if docs[maxSizeDoc].ByteSize > docs[formMatch].ByteSize {
		return maxSizeDoc
	}
	return formMatch
}

// countElements parses content as HTML and counts rendered elements.
// Non-HTML content parses to a handful of implicit wrapper nodes, which is
// exactly the low signal we want for flat text exhibits.
func countElements(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return 0
	}
	return doc.Find("*").Length()
}
