package submission

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func htmlDoc(elements int, padding int) []byte {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < elements; i++ {
		b.WriteString("<p>x</p>")
	}
	b.WriteString(strings.Repeat("y", padding))
	b.WriteString("</body></html>")
	return []byte(b.String())
}

func makeDoc(seq int, desc string, content []byte) Document {
	return Document{
		SequenceNumber: seq,
		Description:    desc,
		Content:        content,
		ByteSize:       len(content),
	}
}

func TestIdentifyPrimary_FormMatchWins(t *testing.T) {
	t.Parallel()

	// The form-matching document is also the largest and most
	// element-rich; all three candidates agree.
	docs := []Document{
		makeDoc(1, "10-K annual report", htmlDoc(200, 5000)),
		makeDoc(2, "exhibit 21 subsidiaries", htmlDoc(5, 100)),
		makeDoc(3, "consent of auditors", htmlDoc(3, 50)),
	}
	pick := IdentifyPrimary(docs, "10-K", 0)
	assert.Equal(t, 0, pick)
	assert.True(t, docs[0].IsPrimary)
	for _, d := range docs[1:] {
		assert.False(t, d.IsPrimary)
	}
}

func TestIdentifyPrimary_LargerExhibitBeatsSmallMatch(t *testing.T) {
	t.Parallel()

	// A non-matching exhibit is strictly larger than the form match and
	// the density rule does not rescue the element-rich candidate, so
	// size prevails.
	docs := []Document{
		makeDoc(1, "10-K annual report", htmlDoc(50, 1000)),
		makeDoc(2, "exhibit 99 merger agreement", htmlDoc(60, 50000)),
	}
	pick := IdentifyPrimary(docs, "10-K", 0)
	assert.Equal(t, 1, pick)
	assert.True(t, docs[1].IsPrimary)
}

func TestIdentifyPrimary_DensityRescuesSmallRichDocument(t *testing.T) {
	t.Parallel()

	// The element-rich document is much denser than the form match (over
	// the 10x ratio) and smaller by size, so it wins even though the
	// form match is bigger.
	rich := htmlDoc(500, 0)
	match := htmlDoc(10, len(rich)+10000)
	docs := []Document{
		makeDoc(1, "10-K annual report", match),
		makeDoc(2, "structured body", rich),
	}
	require.Greater(t, docs[0].ByteSize, docs[1].ByteSize)

	pick := IdentifyPrimary(docs, "10-K", 0)
	assert.Equal(t, 1, pick)
}

func TestIdentifyPrimary_OverrideAlwaysWins(t *testing.T) {
	t.Parallel()

	docs := []Document{
		makeDoc(1, "10-K annual report", htmlDoc(200, 5000)),
		makeDoc(2, "tiny exhibit", htmlDoc(1, 10)),
	}
	pick := IdentifyPrimary(docs, "10-K", 2)
	assert.Equal(t, 1, pick)
	assert.True(t, docs[1].IsPrimary)
	assert.False(t, docs[0].IsPrimary)
}

func TestIdentifyPrimary_NoFormMatchFallsBackToLargest(t *testing.T) {
	t.Parallel()

	docs := []Document{
		makeDoc(1, "cover letter", htmlDoc(5, 100)),
		makeDoc(2, "main body", htmlDoc(20, 9000)),
	}
	pick := IdentifyPrimary(docs, "S-1", 0)
	assert.Equal(t, 1, pick)
}

func TestIdentifyPrimary_Empty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, -1, IdentifyPrimary(nil, "10-K", 0))
}
