package source

import (
	"strings"
	"unicode"
)

// DefaultKeywords marks a forum post as being about a product or tool.
var DefaultKeywords = []string{
	"ai", "artificial intelligence", "machine learning", "ml",
	"saas", "tool", "app", "platform", "service", "software",
	"startup", "launch", "product", "api", "sdk", "solution",
	"automation", "productivity", "b2b", "workflow",
	"openai", "gpt", "claude", "gemini", "llm",
	"chatbot", "assistant", "copilot",
}

// toolIndicators in a title alone are enough to keep a post.
var toolIndicators = []string{"launch", "release", "beta", "alpha", "v1", "v2", "v3", "tool", "app", "service"}

// relevant reports whether title or body mentions any keyword as a whole
// word (or phrase), or the title carries a tool indicator.
func relevant(title, body string, keywords []string) bool {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	titleWords := wordSet(title)
	for _, ind := range toolIndicators {
		if titleWords[ind] {
			return true
		}
	}

	text := strings.ToLower(title + " " + body)
	words := wordSet(text)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(kw, " ") {
			if strings.Contains(text, kw) {
				return true
			}
			continue
		}
		if words[kw] {
			return true
		}
	}
	return false
}

func wordSet(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
