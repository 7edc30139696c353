package ingestion

import (
	"fmt"
	"strings"

	"github.com/jdkato/prose/v2"
)

const DefaultChunkSize = 1000

// SplitSentences segments text into trimmed, non-empty sentences.
func SplitSentences(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithSegmentation(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to segment text: %w", err)
	}

	var sentences []string
	for _, s := range doc.Sentences() {
		if t := strings.Join(strings.Fields(s.Text), " "); t != "" {
			sentences = append(sentences, t)
		}
	}
	return sentences, nil
}

// PackSentences greedily fills chunks of at most budget bytes, joining
// sentences with a space. A sentence is never split; one longer than the
// budget becomes a chunk of its own.
func PackSentences(sentences []string, budget int) []string {
	if budget <= 0 {
		budget = DefaultChunkSize
	}

	var chunks []string
	var current strings.Builder

	for _, s := range sentences {
		if current.Len() > 0 && current.Len()+1+len(s) > budget {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(s)
	}

	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// Chunk splits text into sentence-aligned chunks of at most budget bytes.
func Chunk(text string, budget int) ([]string, error) {
	sentences, err := SplitSentences(text)
	if err != nil {
		return nil, err
	}
	return PackSentences(sentences, budget), nil
}
