package ingestion

import "strings"

// PageChunk is a slice of page text sized for embedding.
type PageChunk struct {
	Index int
	Page  int
	Text  string
}

// ChunkPages splits every page into chunks of at most size bytes, breaking on
// word boundaries. Consecutive chunks of a page share up to overlap bytes of
// trailing words. Chunks never span pages, so each keeps its page number.
func ChunkPages(pages []Page, size, overlap int) []PageChunk {
	var out []PageChunk
	for _, p := range pages {
		for _, text := range chunkText(p.Text, size, overlap) {
			out = append(out, PageChunk{Index: len(out), Page: p.Number, Text: text})
		}
	}
	return out
}

func chunkText(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	currentSize := 0

	for _, word := range words {
		wordLen := len(word) + 1

		if currentSize+wordLen > size && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))

			current = tail(current, overlap)
			currentSize = 0
			for _, w := range current {
				currentSize += len(w) + 1
			}
		}

		current = append(current, word)
		currentSize += wordLen
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// tail returns the longest suffix of words whose joined length fits budget.
func tail(words []string, budget int) []string {
	n := 0
	start := len(words)
	for start > 0 {
		l := len(words[start-1]) + 1
		if n+l > budget {
			break
		}
		n += l
		start--
	}
	out := make([]string, len(words)-start)
	copy(out, words[start:])
	return out
}
