package submission

import (
	"bytes"
	"fmt"
	"strings"
)

// uudecode decodes an ASCII-armored binary payload bounded by begin/end
// markers. Each encoded line opens with a length character covering at
// most 45 source bytes. A line whose character count disagrees with its
// length indicator is repaired by recomputing the byte count from the
// characters actually present ("one short line" heuristic) instead of
// abandoning the submission.
func uudecode(payload string) ([]byte, string, error) {
	lines := strings.Split(payload, "\n")
	if len(lines) == 0 {
		return nil, "", fmt.Errorf("empty payload")
	}

	begin := strings.TrimSpace(lines[0])
	parts := strings.Fields(begin)
	if len(parts) < 3 || !strings.EqualFold(parts[0], "begin") {
		return nil, "", fmt.Errorf("missing begin marker")
	}
	filename := parts[2]

	var (
		out      bytes.Buffer
		sawEnd   bool
		lineNum  int
		dataDone bool
	)
	for _, raw := range lines[1:] {
		lineNum++
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)
		if strings.EqualFold(trimmed, "end") {
			sawEnd = true
			break
		}
		if dataDone || line == "" {
			continue
		}
		// The grave character encodes length zero and terminates data.
		if trimmed == "`" || trimmed == " " {
			dataDone = true
			continue
		}

		decoded, err := decodeLine(line)
		if err != nil {
			return nil, "", fmt.Errorf("line %d: %w", lineNum, err)
		}
		out.Write(decoded)
	}
	if !sawEnd {
		return nil, "", fmt.Errorf("missing end marker")
	}
	return out.Bytes(), filename, nil
}

// uuChar maps one encoded character to its 6-bit value.
func uuChar(c byte) byte {
	return (c - 0x20) & 0x3f
}

// decodeLine decodes one uuencoded data line.
func decodeLine(line string) ([]byte, error) {
	n := int(uuChar(line[0]))
	if n > 45 {
		return nil, fmt.Errorf("length indicator %d exceeds 45", n)
	}
	data := line[1:]

	// Expected encoded characters for n source bytes.
	expected := (n + 2) / 3 * 4
	if len(data) < expected {
		// Short line: trust the characters present over the indicator.
		repaired := len(data) / 4 * 3
		if repaired < n {
			n = repaired
		}
		expected = (n + 2) / 3 * 4
	}
	if len(data) > expected {
		data = data[:expected]
	}

	out := make([]byte, 0, n)
	for i := 0; i+3 < len(data) && len(out) < n; i += 4 {
		c0, c1, c2, c3 := uuChar(data[i]), uuChar(data[i+1]), uuChar(data[i+2]), uuChar(data[i+3])
		triple := [3]byte{
			c0<<2 | c1>>4,
			c1<<4 | c2>>2,
			c2<<6 | c3,
		}
		for j := 0; j < 3 && len(out) < n; j++ {
			out = append(out, triple[j])
		}
	}
	if len(out) < n {
		return nil, fmt.Errorf("line truncated: expected %d bytes, decoded %d", n, len(out))
	}
	return out, nil
}
