package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/SurveyPipe/internal/genai"
	"github.com/BTreeMap/SurveyPipe/internal/models"
)

// conditionSystemPrompt constrains the model to a strict binary verdict.
const conditionSystemPrompt = `You are a strict classifier. You will be given a condition and a recent conversation excerpt. Decide whether the condition holds based only on the excerpt. Respond with exactly one word: TRUE or FALSE. Do not explain.`

// recentTurnWindow is how many trailing messages are shown to the classifier.
const recentTurnWindow = 4

// ConditionEvaluator decides branch routing by asking the LLM whether a
// natural-language condition holds for the recent exchange.
type ConditionEvaluator struct {
	client genai.ClientInterface
}

// NewConditionEvaluator creates a ConditionEvaluator backed by the given client.
func NewConditionEvaluator(client genai.ClientInterface) *ConditionEvaluator {
	return &ConditionEvaluator{client: client}
}

// Evaluate asks the model whether condition holds for the recent turns.
// Output that cannot be parsed as TRUE or FALSE is treated as false and
// logged as an anomaly. An error is returned only on upstream failure.
func (e *ConditionEvaluator) Evaluate(ctx context.Context, condition string, recentTurns []models.Message) (bool, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "CONDITION: %s\n\nRECENT CONVERSATION:\n", condition)
	for _, m := range recentTurns {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	b.WriteString("\nDoes the condition hold? Answer TRUE or FALSE.")

	out, err := e.client.Generate(ctx, conditionSystemPrompt, b.String())
	if err != nil {
		return false, fmt.Errorf("condition evaluation failed: %w", err)
	}

	verdict, ok := parseVerdict(out)
	if !ok {
		slog.Warn("ConditionEvaluator.Evaluate: ambiguous classifier output, defaulting to false", "condition", condition, "output", out)
		return false, nil
	}
	slog.Debug("ConditionEvaluator.Evaluate: verdict", "condition", condition, "verdict", verdict)
	return verdict, nil
}

// parseVerdict extracts the first unambiguous TRUE/FALSE token. It returns
// ok=false when neither token appears or both appear.
func parseVerdict(output string) (verdict bool, ok bool) {
	sawTrue := false
	sawFalse := false
	for _, field := range strings.Fields(output) {
		token := strings.ToUpper(strings.Trim(field, ".,:;!\"'`"))
		switch token {
		case "TRUE", "YES":
			sawTrue = true
		case "FALSE", "NO":
			sawFalse = true
		}
	}
	if sawTrue == sawFalse {
		return false, false
	}
	return sawTrue, true
}

// RecentTurns returns the trailing window of user/assistant messages used
// for condition evaluation. System messages are excluded.
func RecentTurns(messages []models.Message) []models.Message {
	var turns []models.Message
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) > recentTurnWindow {
		turns = turns[len(turns)-recentTurnWindow:]
	}
	return turns
}
