package enrich

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saas-radar/internal/model"
)

func TestBuildUserPrompt(t *testing.T) {
	batch := []model.NormalizedRecord{
		{RawRecord: model.RawRecord{Title: "AI Resume Optimizer", Description: "Tailors resumes"}, Votes: 120},
		{RawRecord: model.RawRecord{Title: "Clip Maker"}, Votes: 3},
	}
	prompt, err := buildUserPrompt(batch)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(prompt, "Analyze these tools:\n"))
	assert.Contains(t, prompt, `"tool_name": "AI Resume Optimizer"`)
	assert.Contains(t, prompt, `"votes": 120`)
	assert.Less(t, strings.Index(prompt, "AI Resume Optimizer"), strings.Index(prompt, "Clip Maker"))
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", "Here you go: {\"a\":1} hope that helps", `{"a":1}`},
		{"no object", "nothing here", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanJSON(tt.in))
		})
	}
}

func TestParseResponse_GroupsByFoldedName(t *testing.T) {
	entries, err := parseResponse(`{"analyzed_tools":[
		{"tool_name":"  Clip   Maker ","trend_signal":"Rising"},
		{"tool_name":"clip maker","trend_signal":"Stable"},
		{"tool_name":"Other","trend_signal":"Declining"}
	]}`)
	require.NoError(t, err)

	queue := entries[nameKey("CLIP MAKER")]
	require.Len(t, queue, 2)
	assert.Equal(t, "Rising", queue[0].TrendSignal)
	assert.Equal(t, "Stable", queue[1].TrendSignal)
	assert.Len(t, entries[nameKey("other")], 1)
}

func TestParseResponse_Invalid(t *testing.T) {
	_, err := parseResponse(`{"analyzed_tools": "nope"}`)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := analyzedTool{
		ToolName:       "X",
		Category:       "education",
		TrendSignal:    "rising",
		PainPoint:      "  hard to study  ",
		MicroSaaSIdeas: []string{"  flash   cards  ", "", "quiz bot"},
	}

	got, err := validate(valid)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryEducation, got.Category)
	assert.Equal(t, model.TrendRising, got.TrendSignal)
	assert.Equal(t, "hard to study", got.PainPoint)
	assert.Equal(t, []string{"flash cards", "quiz bot"}, got.Ideas)
	assert.Equal(t, model.EnrichmentAI, got.EnrichmentSource)

	unknown := valid
	unknown.Category = "Robotics"
	got, err = validate(unknown)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryOther, got.Category)

	long := valid
	long.MicroSaaSIdeas = []string{strings.Repeat("é", 300)}
	got, err = validate(long)
	require.NoError(t, err)
	assert.Len(t, []rune(got.Ideas[0]), maxIdeaLen)

	noPain := valid
	noPain.PainPoint = "   "
	got, err = validate(noPain)
	require.NoError(t, err)
	assert.Empty(t, got.PainPoint)
	assert.Equal(t, model.TrendRising, got.TrendSignal)
	assert.Equal(t, model.EnrichmentAI, got.EnrichmentSource)

	rejects := map[string]func(*analyzedTool){
		"bad trend":     func(a *analyzedTool) { a.TrendSignal = "Booming" },
		"no ideas":      func(a *analyzedTool) { a.MicroSaaSIdeas = nil },
		"blank ideas":   func(a *analyzedTool) { a.MicroSaaSIdeas = []string{" ", ""} },
		"missing trend": func(a *analyzedTool) { a.TrendSignal = "" },
	}
	for name, mutate := range rejects {
		t.Run(name, func(t *testing.T) {
			bad := valid
			mutate(&bad)
			_, err := validate(bad)
			assert.Error(t, err)
		})
	}
}

func TestFallback(t *testing.T) {
	for _, c := range model.Categories {
		rec := model.NormalizedRecord{Category: c, Votes: 7}
		got := Fallback(rec)
		assert.Equal(t, model.EnrichmentFallback, got.EnrichmentSource)
		assert.Equal(t, model.TrendStable, got.TrendSignal)
		assert.Empty(t, got.PainPoint)
		require.Len(t, got.Ideas, 1)
		assert.NotEmpty(t, got.Ideas[0])
		assert.Equal(t, c, got.Category)
		assert.Equal(t, 7, got.Votes)
	}

	assert.Equal(t, FallbackIdea(model.CategoryOther), FallbackIdea(model.Category("Robotics")))
	assert.Equal(t, FallbackIdea(model.CategoryAudio), Fallback(model.NormalizedRecord{Category: model.CategoryAudio}).Ideas[0])
}
