package submission

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uuencodeFixture produces a standard uuencoded body for test payloads.
func uuencodeFixture(name string, data []byte) string {
	enc := func(c byte) byte {
		if c == 0 {
			return 0x60
		}
		return c + 0x20
	}

	var b strings.Builder
	fmt.Fprintf(&b, "begin 644 %s\n", name)
	for i := 0; i < len(data); i += 45 {
		end := i + 45
		if end > len(data) {
			end = len(data)
		}
		chunk := data[i:end]
		b.WriteByte(byte(len(chunk)) + 0x20)
		for j := 0; j < len(chunk); j += 3 {
			var t [3]byte
			copy(t[:], chunk[j:])
			b.WriteByte(enc(t[0] >> 2))
			b.WriteByte(enc((t[0]&0x03)<<4 | t[1]>>4))
			b.WriteByte(enc((t[1]&0x0f)<<2 | t[2]>>6))
			b.WriteByte(enc(t[2] & 0x3f))
		}
		b.WriteByte('\n')
	}
	b.WriteString("`\nend\n")
	return b.String()
}

func docBlock(typ, seq, filename, desc, text string) string {
	var b strings.Builder
	b.WriteString("<DOCUMENT>\n")
	if typ != "" {
		fmt.Fprintf(&b, "<TYPE>%s\n", typ)
	}
	if seq != "" {
		fmt.Fprintf(&b, "<SEQUENCE>%s\n", seq)
	}
	if filename != "" {
		fmt.Fprintf(&b, "<FILENAME>%s\n", filename)
	}
	if desc != "" {
		fmt.Fprintf(&b, "<DESCRIPTION>%s\n", desc)
	}
	b.WriteString("<TEXT>\n")
	b.WriteString(text)
	b.WriteString("\n</TEXT>\n</DOCUMENT>\n")
	return b.String()
}

const headerFixture = `<SEC-HEADER>0000320193-23-000106.hdr.sgml : 20231103
<ACCEPTANCE-DATETIME>20231102180002
ACCESSION NUMBER:		0000320193-23-000106
CONFORMED SUBMISSION TYPE:	10-K
FILED AS OF DATE:		20231103
garbage line without separator
FILER:
	COMPANY DATA:
		COMPANY CONFORMED NAME:	Apple Inc.
		CENTRAL INDEX KEY:	0000320193
</SEC-HEADER>
`

func TestDecompose_RoundTrip(t *testing.T) {
	t.Parallel()

	binary := []byte{0x00, 0x01, 0x02, 0xff, 0xfe, 0x80, 0x7f, 0x41, 0x42, 0x43}
	for i := 0; i < 100; i++ {
		binary = append(binary, byte(i*7))
	}

	// A uuencoded body with no end marker is unrecoverable.
	broken := "begin 644 broken.bin\nM____\n"

	raw := headerFixture +
		docBlock("10-K", "1", "aapl-20230930.htm", "10-K", "<html><body>annual report</body></html>") +
		docBlock("GRAPHIC", "2", "chart.jpg", "performance chart", uuencodeFixture("chart.jpg", binary)) +
		docBlock("", "3", "", "", broken)

	res, err := Decompose([]byte(raw))
	require.NoError(t, err)
	require.Len(t, res.Documents, 3)

	for i, doc := range res.Documents {
		assert.Equal(t, i+1, doc.SequenceNumber)
	}

	first := res.Documents[0]
	assert.Equal(t, "10-K", first.Type)
	assert.Equal(t, EncodingPlain, first.RawEncoding)
	assert.Contains(t, string(first.Content), "annual report")

	second := res.Documents[1]
	assert.Equal(t, EncodingUUEncoded, second.RawEncoding)
	assert.Equal(t, "chart.jpg", second.Filename)
	assert.Equal(t, binary, second.Content, "decoded bytes must equal the pre-encoding fixture")
	assert.Equal(t, len(binary), second.ByteSize)

	third := res.Documents[2]
	assert.True(t, third.ParseError)
	assert.Empty(t, third.Type)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "document 3")
}

func TestDecompose_NoDocumentBlocks(t *testing.T) {
	t.Parallel()

	res, err := Decompose([]byte("just a flat text filing\nwith two lines"))
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, 1, res.Documents[0].SequenceNumber)
	assert.Equal(t, EncodingPlain, res.Documents[0].RawEncoding)
	assert.Contains(t, string(res.Documents[0].Content), "flat text filing")
}

func TestDecompose_MissingTagsAreEmptyNotFatal(t *testing.T) {
	t.Parallel()

	raw := docBlock("", "", "", "", "body only")
	res, err := Decompose([]byte(raw))
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)

	doc := res.Documents[0]
	assert.False(t, doc.ParseError)
	assert.Empty(t, doc.Type)
	assert.Empty(t, doc.Filename)
	assert.Empty(t, doc.Description)
	assert.Equal(t, "body only", string(doc.Content))
}

func TestParseHeader(t *testing.T) {
	t.Parallel()

	fields, next := parseHeader(headerFixture + "<DOCUMENT>rest</DOCUMENT>")
	require.NotZero(t, next)

	assert.Equal(t, "0000320193-23-000106", HeaderValue(fields, "ACCESSION NUMBER"))
	assert.Equal(t, "10-K", HeaderValue(fields, "CONFORMED SUBMISSION TYPE"))
	assert.Equal(t, "20231102180002", HeaderValue(fields, "ACCEPTANCE-DATETIME"))

	// Grouped values keep their leaf group.
	var companyGroup string
	for _, f := range fields {
		if f.Key == "COMPANY CONFORMED NAME" {
			companyGroup = f.Group
		}
	}
	assert.Equal(t, "COMPANY DATA", companyGroup)

	// The malformed line is skipped, not surfaced.
	assert.Empty(t, HeaderValue(fields, "garbage line without separator"))
}

func TestParseHeader_CaseInsensitiveDocumentScan(t *testing.T) {
	t.Parallel()

	raw := "<document>\n<type>EX-99\n<text>\nlowercase tags\n</text>\n</document>"
	res, err := Decompose([]byte(raw))
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "EX-99", res.Documents[0].Type)
}

func TestUUDecode_ShortLineRepair(t *testing.T) {
	t.Parallel()

	data := []byte("exactly forty-five bytes of content here!!!!!")[:45]
	encoded := uuencodeFixture("f.bin", data)

	// Drop the trailing encoded group from the data line, simulating a
	// transport that stripped characters. The repair heuristic recomputes
	// the byte count from what survived.
	lines := strings.Split(encoded, "\n")
	require.GreaterOrEqual(t, len(lines[1]), 61)
	lines[1] = lines[1][:len(lines[1])-4]
	payload := strings.Join(lines, "\n")

	decoded, filename, err := uudecode(payload)
	require.NoError(t, err)
	assert.Equal(t, "f.bin", filename)
	assert.Equal(t, data[:42], decoded)
}

func TestUUDecode_MissingEnd(t *testing.T) {
	t.Parallel()

	_, _, err := uudecode("begin 644 x.bin\n#0V%T\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "end marker")
}
