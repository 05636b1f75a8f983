package submission

import (
	"strings"
)

// Header block delimiters. Older submissions use the IMS variant.
var headerMarkers = []struct {
	start, end string
}{
	{"<SEC-HEADER>", "</SEC-HEADER>"},
	{"<IMS-HEADER>", "</IMS-HEADER>"},
}

// parseHeader extracts ordered group/key/value triples from the header
// block. Malformed lines are skipped, never fatal. Returns the header
// fields and the offset just past the end marker (0 when no block found).
func parseHeader(raw string) ([]HeaderField, int) {
	var (
		block string
		next  int
	)
	for _, m := range headerMarkers {
		start := strings.Index(raw, m.start)
		if start < 0 {
			continue
		}
		end := strings.Index(raw[start:], m.end)
		if end < 0 {
			continue
		}
		block = raw[start+len(m.start) : start+end]
		next = start + end + len(m.end)
		break
	}
	if block == "" {
		return nil, 0
	}

	var (
		fields []HeaderField
		group  string
	)
	for _, line := range strings.Split(block, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		if strings.TrimSpace(trimmed) == "" {
			continue
		}

		// Tag-style lines: <ACCEPTANCE-DATETIME>20231102180002
		if strings.HasPrefix(strings.TrimSpace(trimmed), "<") {
			tag := strings.TrimSpace(trimmed)
			gt := strings.Index(tag, ">")
			if gt <= 1 {
				continue
			}
			key := tag[1:gt]
			if strings.HasPrefix(key, "/") {
				continue
			}
			fields = append(fields, HeaderField{
				Group: group,
				Key:   key,
				Value: strings.TrimSpace(tag[gt+1:]),
			})
			continue
		}

		colon := strings.Index(trimmed, ":")
		if colon < 0 {
			// Continuation or free text; skip rather than fail.
			continue
		}
		key := strings.TrimSpace(trimmed[:colon])
		value := strings.TrimSpace(trimmed[colon+1:])
		if key == "" {
			continue
		}
		if value == "" {
			// A bare "KEY:" line opens a group (FILER:, COMPANY DATA:).
			// Nested group names replace rather than stack; the archive
			// only nests two deep and consumers key on the leaf group.
			group = key
			continue
		}
		fields = append(fields, HeaderField{Group: group, Key: key, Value: value})
	}
	return fields, next
}

// HeaderValue returns the first value for key, ignoring group.
func HeaderValue(fields []HeaderField, key string) string {
	for _, f := range fields {
		if strings.EqualFold(f.Key, key) {
			return f.Value
		}
	}
	return ""
}
