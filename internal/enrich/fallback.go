package enrich

import "github.com/sells-group/saas-radar/internal/model"

var fallbackIdeas = map[model.Category]string{
	model.CategoryVideo:        "Niche video editing templates for a specific creator vertical",
	model.CategoryText:         "Domain-specific writing assistant for one profession",
	model.CategoryProductivity: "Workflow automation for a single repetitive team task",
	model.CategoryMarketing:    "Automated campaign reporting for small agencies",
	model.CategoryEducation:    "Personalized practice generator for one exam or skill",
	model.CategoryAudio:        "Audio cleanup and repurposing for podcasters",
	model.CategoryOther:        "Lightweight vertical tool built on this capability",
}

// FallbackIdea returns the placeholder idea for c.
func FallbackIdea(c model.Category) string {
	if idea, ok := fallbackIdeas[c]; ok {
		return idea
	}
	return fallbackIdeas[model.CategoryOther]
}

// Fallback enriches rec without the inference service.
func Fallback(rec model.NormalizedRecord) model.EnrichedRecord {
	return model.EnrichedRecord{
		NormalizedRecord: rec,
		TrendSignal:      model.TrendStable,
		PainPoint:        "",
		Ideas:            []string{FallbackIdea(rec.Category)},
		EnrichmentSource: model.EnrichmentFallback,
	}
}
