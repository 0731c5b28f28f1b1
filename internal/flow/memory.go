package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/SurveyPipe/internal/genai"
	"github.com/BTreeMap/SurveyPipe/internal/models"
)

const memorySystemPrompt = `You summarize survey interview transcripts. Produce a concise summary of the conversation so far, and list every concrete answer the participant has given as facts. Respond in exactly this format:
SUMMARY:
<summary text>
FACTS:
<one fact per line>`

// MemoryCompressor condenses conversation history at step boundaries so long
// interviews stay within the model's context budget without losing answers.
type MemoryCompressor struct {
	client genai.ClientInterface
}

// NewMemoryCompressor creates a MemoryCompressor backed by the given client.
func NewMemoryCompressor(client genai.ClientInterface) *MemoryCompressor {
	return &MemoryCompressor{client: client}
}

// Compress summarizes the given history and merges newly extracted facts
// with the already known ones. On upstream failure the caller keeps the raw
// history; an answer is never traded for a failed summary.
func (c *MemoryCompressor) Compress(ctx context.Context, history []models.Message, knownFacts string) (summary, updatedFacts string, err error) {
	var b strings.Builder
	if knownFacts != "" {
		fmt.Fprintf(&b, "KNOWN FACTS SO FAR:\n%s\n\n", knownFacts)
	}
	b.WriteString("TRANSCRIPT:\n")
	for _, m := range history {
		if m.Role == models.RoleSystem {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	out, err := c.client.Generate(ctx, memorySystemPrompt, b.String())
	if err != nil {
		return "", "", fmt.Errorf("memory compression failed: %w", err)
	}

	summary, updatedFacts = parseCompression(out, knownFacts)
	slog.Debug("MemoryCompressor.Compress: history compressed", "historyLength", len(history), "summaryLength", len(summary))
	return summary, updatedFacts, nil
}

// parseCompression splits the model output into its SUMMARY and FACTS
// sections. Output without the expected headers is treated entirely as
// summary, with the known facts carried over unchanged.
func parseCompression(output, knownFacts string) (summary, facts string) {
	upper := strings.ToUpper(output)
	factsIdx := strings.Index(upper, "FACTS:")
	summaryIdx := strings.Index(upper, "SUMMARY:")

	if factsIdx == -1 {
		body := output
		if summaryIdx != -1 {
			body = output[summaryIdx+len("SUMMARY:"):]
		}
		return strings.TrimSpace(body), knownFacts
	}

	summaryPart := output[:factsIdx]
	if summaryIdx != -1 && summaryIdx < factsIdx {
		summaryPart = output[summaryIdx+len("SUMMARY:") : factsIdx]
	}
	factsPart := output[factsIdx+len("FACTS:"):]

	summary = strings.TrimSpace(summaryPart)
	facts = strings.TrimSpace(factsPart)
	if facts == "" {
		facts = knownFacts
	}
	return summary, facts
}
