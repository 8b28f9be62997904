package knowledge

import (
	"strings"
	"testing"
)

func TestChunkAssignsSequentialOrdinals(t *testing.T) {
	c := NewChunker(50, 10)
	text := "# Refunds\n" + strings.Repeat("refund terms apply here. ", 20)
	chunks := c.Chunk("policy", text)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Ordinal != i {
			t.Errorf("chunk %d has ordinal %d", i, ch.Ordinal)
		}
		if ch.SourceDoc != "policy" {
			t.Errorf("chunk %d source = %q", i, ch.SourceDoc)
		}
	}
}

func TestChunkRespectsSections(t *testing.T) {
	c := NewChunker(600, 100)
	text := "# Refunds\nrefund rules.\n\n# Luggage\nluggage rules.\n"
	chunks := c.Chunk("policy", text)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Section != "Refunds" || chunks[1].Section != "Luggage" {
		t.Errorf("sections = %q, %q", chunks[0].Section, chunks[1].Section)
	}
}

func TestChunkSizeLimit(t *testing.T) {
	c := NewChunker(100, 20)
	text := strings.Repeat("some words in a sentence. ", 50)
	chunks := c.Chunk("doc", text)
	for i, ch := range chunks {
		if n := len([]rune(ch.Text)); n > 100 {
			t.Errorf("chunk %d has %d runes, limit 100", i, n)
		}
	}
}

func TestChunkOverlapCarriesContext(t *testing.T) {
	c := NewChunker(60, 20)
	text := "aaaa bbbb cccc dddd eeee ffff gggg hhhh iiii jjjj kkkk llll mmmm nnnn oooo pppp"
	chunks := c.Chunk("doc", text)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	// Consecutive chunks share trailing/leading words.
	first := strings.Fields(chunks[0].Text)
	second := chunks[1].Text
	tail := first[len(first)-1]
	if !strings.Contains(second, tail) {
		t.Errorf("chunk 1 %q does not overlap tail %q of chunk 0", second, tail)
	}
}

func TestChunkEmptyDocument(t *testing.T) {
	c := NewChunker(600, 100)
	if chunks := c.Chunk("doc", "   \n\n  "); len(chunks) != 0 {
		t.Errorf("got %d chunks from blank document, want 0", len(chunks))
	}
}

func TestDetectTopics(t *testing.T) {
	topics := detectTopics("Refund and cancellation fee rules for flexible tickets")
	want := map[string]bool{"refunds": true, "tickets": true}
	for _, topic := range topics {
		if !want[topic] {
			t.Errorf("unexpected topic %q", topic)
		}
		delete(want, topic)
	}
	for topic := range want {
		t.Errorf("missing topic %q", topic)
	}
}
