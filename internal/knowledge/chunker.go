// Package knowledge implements semantic retrieval over the policy corpus.
// Documents are split into overlapping chunks, embedded once at ingest, and
// searched by cosine similarity against a query embedding.
package knowledge

import (
	"strings"

	"github.com/ntg2208/production-ai-customer-support/internal/support"
)

// Chunker splits documents into retrieval-sized chunks. Size and overlap are
// measured in runes so multi-byte text never splits mid-character.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker returns a chunker with the given rune size and overlap.
// Overlap must be smaller than size.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 600
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 6
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Chunk splits a document into ordered chunks. Markdown headings open a new
// section and are never split across chunks. Ordinals are assigned in
// document order starting at 0.
func (c *Chunker) Chunk(sourceDoc, text string) []support.Chunk {
	var chunks []support.Chunk
	ordinal := 0

	for _, sec := range splitSections(text) {
		body := strings.TrimSpace(sec.body)
		if body == "" {
			continue
		}
		for _, piece := range c.split(body) {
			chunks = append(chunks, support.Chunk{
				SourceDoc: sourceDoc,
				Ordinal:   ordinal,
				Section:   sec.title,
				Topics:    detectTopics(sec.title + " " + piece),
				Text:      piece,
			})
			ordinal++
		}
	}
	return chunks
}

type section struct {
	title string
	body  string
}

// splitSections breaks markdown text on headings. Text before the first
// heading becomes an untitled section.
func splitSections(text string) []section {
	var sections []section
	cur := section{}
	var body strings.Builder

	flush := func() {
		cur.body = body.String()
		if strings.TrimSpace(cur.body) != "" {
			sections = append(sections, cur)
		}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			flush()
			cur = section{title: strings.TrimSpace(strings.TrimLeft(trimmed, "# "))}
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()
	return sections
}

// split cuts a section body into pieces of at most Size runes, each
// overlapping the previous by Overlap runes. Cuts prefer sentence or
// paragraph boundaries near the limit.
func (c *Chunker) split(body string) []string {
	runes := []rune(body)
	if len(runes) <= c.Size {
		return []string{body}
	}

	var pieces []string
	start := 0
	for start < len(runes) {
		end := start + c.Size
		if end >= len(runes) {
			piece := strings.TrimSpace(string(runes[start:]))
			if piece != "" {
				pieces = append(pieces, piece)
			}
			break
		}

		cut := boundaryBefore(runes, start+c.Size/2, end)
		piece := strings.TrimSpace(string(runes[start:cut]))
		if piece != "" {
			pieces = append(pieces, piece)
		}

		next := cut - c.Overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return pieces
}

// boundaryBefore finds the last sentence or paragraph boundary in
// runes[min:max], falling back to the last space, then to max.
func boundaryBefore(runes []rune, min, max int) int {
	lastSpace := -1
	for i := max - 1; i >= min; i-- {
		switch runes[i] {
		case '\n':
			return i + 1
		case '.', '!', '?':
			if i+1 < len(runes) && (runes[i+1] == ' ' || runes[i+1] == '\n') {
				return i + 1
			}
		case ' ':
			if lastSpace < 0 {
				lastSpace = i
			}
		}
	}
	if lastSpace > min {
		return lastSpace
	}
	return max
}

// topicKeywords tags chunks with coarse topics used for logging and stats.
var topicKeywords = map[string][]string{
	"refunds":       {"refund", "cancellation fee", "cancel"},
	"modifications": {"modify", "modification", "change", "reschedule"},
	"tickets":       {"ticket type", "flexible", "first class", "standard", "fare"},
	"luggage":       {"luggage", "baggage", "bicycle", "bike"},
	"accessibility": {"accessibility", "wheelchair", "assistance", "disabled"},
	"delays":        {"delay", "compensation", "disruption", "late"},
	"payments":      {"payment", "card", "contactless", "railcard"},
	"travel":        {"platform", "boarding", "seat", "reservation"},
}

func detectTopics(text string) []string {
	lower := strings.ToLower(text)
	var topics []string
	for _, topic := range []string{"refunds", "modifications", "tickets", "luggage", "accessibility", "delays", "payments", "travel"} {
		for _, kw := range topicKeywords[topic] {
			if strings.Contains(lower, kw) {
				topics = append(topics, topic)
				break
			}
		}
	}
	return topics
}
