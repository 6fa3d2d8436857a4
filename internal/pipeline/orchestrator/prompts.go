// internal/pipeline/orchestrator/prompts.go
package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"tax-concierge/internal/models"
)

const answerSystemTemplate = `You are a knowledgeable tax assistant providing accurate, focused answers.

Retrieved sources are ranked by relevance (Source 1 = most relevant).

ANSWER RULES:
1. Be direct and complete: include dollar amounts, thresholds, form numbers, deadlines
2. Prioritize Source 1: use information from top-ranked sources first
3. Cite sources: use [1], [2] after facts
4. Match answer length to question complexity: simple factual questions get 2-4 sentences, procedural questions get short paragraphs with bullet lists
5. Only ask follow-ups when NECESSARY: do not ask filing status for universal rules

Previous conversation:
%s

Retrieved Context (ordered by relevance):
%s`

const contextualizeSystemPrompt = `Given a chat history and the latest user question which might reference context in the chat history, formulate a standalone question which can be understood without the chat history. Do NOT answer the question, just reformulate it if needed and otherwise return it as is.`

const minUsefulChunkChars = 200

var (
	referencesSectionRe = regexp.MustCompile(`(?is)\n\s*References?:.*$`)
	verboseCitationRe   = regexp.MustCompile(`\[Source\s+(\d+):\s+[^\]]+\]`)
	titledCitationRe    = regexp.MustCompile(`\[(\d+):\s+[^\]]+\]`)
	excessNewlinesRe    = regexp.MustCompile(`\n\s*\n\s*\n`)
)

// buildContext assembles the numbered source block under a total character
// budget. The budget caps the whole block, not each chunk, so the top-ranked
// sources keep their full content.
func buildContext(chunks []models.DocumentChunk, maxChars int) string {
	var parts []string
	total := 0

	for i, chunk := range chunks {
		relevance := chunk.VectorSimilarity
		if chunk.RerankScore != nil {
			relevance = *chunk.RerankScore
		}
		header := fmt.Sprintf("[Source %d - Relevance: %.2f]\nTitle: %s\n", i+1, relevance, chunk.Title)

		available := maxChars - total - len(header)
		if available < minUsefulChunkChars {
			break
		}

		content := chunk.Content
		if len(content) > available {
			// Back off to a rune boundary so the cut never leaves a
			// partial UTF-8 sequence in the prompt.
			cut := available
			for cut > 0 && !utf8.RuneStart(content[cut]) {
				cut--
			}
			content = content[:cut]
		}
		parts = append(parts, header+content)
		total += len(header) + len(content)

		if total >= maxChars {
			break
		}
	}

	return strings.Join(parts, "\n\n")
}

// formatHistory renders recent turns for the prompts.
func formatHistory(messages []models.Message) string {
	if len(messages) == 0 {
		return "(none)"
	}

	var sb strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Content)
	}
	return strings.TrimSpace(sb.String())
}

// cleanCitations strips trailing reference sections and normalizes verbose
// citation markers down to bare [N].
func cleanCitations(answer string) string {
	cleaned := referencesSectionRe.ReplaceAllString(answer, "")
	cleaned = verboseCitationRe.ReplaceAllString(cleaned, "[$1]")
	cleaned = titledCitationRe.ReplaceAllString(cleaned, "[$1]")
	cleaned = excessNewlinesRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

func buildSources(chunks []models.DocumentChunk) []models.SourceRef {
	sources := make([]models.SourceRef, len(chunks))
	for i, chunk := range chunks {
		sources[i] = models.SourceRef{
			Ordinal: i + 1,
			Title:   chunk.Title,
			Source:  chunk.Source,
		}
	}
	return sources
}
