package ingest

import (
	"regexp"

	"github.com/kbgraph/kbd/internal/store"
)

// redactionPattern pairs a named pattern with its matcher. Best
// effort only: this catches common high-signal secret shapes, not
// every possible credential format.
type redactionPattern struct {
	name string
	re   *regexp.Regexp
}

var redactionPatterns = []redactionPattern{
	{"aws_access_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"generic_api_key", regexp.MustCompile(`(?i)(api[_-]?key|secret|token)["']?\s*[:=]\s*["']?[A-Za-z0-9_\-]{20,}`)},
	{"private_key_block", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	{"bearer_token", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.]{20,}`)},
	{"email_address", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
}

// redactionMark is what replaces a matched span in the ingested text.
const redactionMark = "[REDACTED]"

// redact scans text for high-signal secret/PII shapes and replaces
// each match with a fixed marker, returning the redacted text and the
// offsets (into the ORIGINAL text) and pattern name of each redaction
// for the ingested_files audit record.
func redact(text string) (string, []store.Redaction) {
	var records []store.Redaction

	type span struct {
		start, end int
		pattern    string
	}
	var spans []span
	for _, p := range redactionPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			spans = append(spans, span{start: loc[0], end: loc[1], pattern: p.name})
		}
	}

	if len(spans) == 0 {
		return text, nil
	}

	// Sort by start offset so overlapping/nested matches from
	// different patterns are applied in document order.
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && spans[j].start < spans[j-1].start; j-- {
			spans[j], spans[j-1] = spans[j-1], spans[j]
		}
	}

	var out []byte
	last := 0
	for _, s := range spans {
		if s.start < last {
			continue // overlapping with a previously-applied redaction
		}
		out = append(out, text[last:s.start]...)
		out = append(out, redactionMark...)
		records = append(records, store.Redaction{Offset: s.start, Pattern: s.pattern})
		last = s.end
	}
	out = append(out, text[last:]...)

	return string(out), records
}
