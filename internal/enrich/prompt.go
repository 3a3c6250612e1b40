package enrich

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"

	"github.com/sells-group/saas-radar/internal/model"
)

const systemPrompt = `You are an AI trend analyst. You receive a list of newly launched AI tools and for each one you:
1. Classify it into exactly one category: Video, Text, Productivity, Marketing, Education, Audio, Other.
   Video: video generation, editing, processing. Text: writing, generation, translation.
   Productivity: efficiency, automation. Marketing: promotion, sales. Education: learning, training.
   Audio: audio generation, editing, processing. Other: anything else.
2. Describe the concrete user pain point the tool addresses.
3. Propose 1 to 3 micro-SaaS ideas an independent developer could build from that pain point.
4. Assign a trend signal: Rising (new, fast-growing demand), Stable (mature, steady demand) or Declining (saturated or shrinking).

Respond with JSON only, in exactly this shape:
{"analyzed_tools":[{"tool_name":"...","category":"...","trend_signal":"...","pain_point":"...","micro_saas_ideas":["..."]}]}
Return one entry per input tool and copy tool_name exactly as given.`

const (
	maxIdeas   = 3
	maxIdeaLen = 200
	// promptOverheadTokens approximates the system prompt in cost estimates.
	promptOverheadTokens = 400
	temperature          = 0.3
)

type promptItem struct {
	ToolName    string `json:"tool_name"`
	Description string `json:"description"`
	Votes       int    `json:"votes"`
}

type analysisResponse struct {
	AnalyzedTools []analyzedTool `json:"analyzed_tools"`
}

type analyzedTool struct {
	ToolName       string   `json:"tool_name"`
	Category       string   `json:"category"`
	TrendSignal    string   `json:"trend_signal"`
	PainPoint      string   `json:"pain_point"`
	MicroSaaSIdeas []string `json:"micro_saas_ideas"`
}

// buildUserPrompt renders the batch as the ordered request list.
func buildUserPrompt(batch []model.NormalizedRecord) (string, error) {
	items := make([]promptItem, len(batch))
	for i, r := range batch {
		items[i] = promptItem{ToolName: r.Title, Description: r.Description, Votes: r.Votes}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "enrich: marshal prompt")
	}
	return "Analyze these tools:\n" + string(data), nil
}

// parseResponse decodes the model output into entries grouped by tool name.
// Each name maps to a queue so repeated names are consumed in order.
func parseResponse(text string) (map[string][]analyzedTool, error) {
	var resp analysisResponse
	if err := json.Unmarshal([]byte(cleanJSON(text)), &resp); err != nil {
		return nil, eris.Wrap(err, "enrich: parse response")
	}
	out := make(map[string][]analyzedTool, len(resp.AnalyzedTools))
	for _, t := range resp.AnalyzedTools {
		key := nameKey(t.ToolName)
		out[key] = append(out[key], t)
	}
	return out, nil
}

func nameKey(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// validate checks one response entry. Unknown categories map to Other. A bad
// trend signal or no usable ideas reject the entry; the pain point may be empty.
func validate(t analyzedTool) (model.EnrichedRecord, error) {
	trend, ok := model.ParseTrendSignal(t.TrendSignal)
	if !ok {
		return model.EnrichedRecord{}, eris.Errorf("enrich: invalid trend_signal %q", t.TrendSignal)
	}
	pain := strings.TrimSpace(t.PainPoint)
	ideas := make([]string, 0, maxIdeas)
	for _, idea := range t.MicroSaaSIdeas {
		idea = strings.Join(strings.Fields(idea), " ")
		if idea == "" {
			continue
		}
		if r := []rune(idea); len(r) > maxIdeaLen {
			idea = string(r[:maxIdeaLen])
		}
		ideas = append(ideas, idea)
		if len(ideas) == maxIdeas {
			break
		}
	}
	if len(ideas) == 0 {
		return model.EnrichedRecord{}, eris.New("enrich: no micro_saas_ideas")
	}
	return model.EnrichedRecord{
		NormalizedRecord: model.NormalizedRecord{Category: model.ParseCategory(t.Category)},
		TrendSignal:      trend,
		PainPoint:        pain,
		Ideas:            ideas,
		EnrichmentSource: model.EnrichmentAI,
	}, nil
}
