package pipeline

import (
	"fmt"
	"math/rand"
	"strings"
	"unicode"

	"automod/internal/content"
)

var bodyTemplates = []string{
	"Thinking about %s today. What's your take?",
	"Quick note on %s: small steps add up.",
	"%s is on our radar this week. More soon.",
	"Three words: %s, done right.",
	"Here's something worth sharing about %s.",
}

var platformTags = map[string][]string{
	"telegram":  {"#channel", "#update", "#daily"},
	"twitter":   {"#thread", "#tech", "#news"},
	"x":         {"#thread", "#tech", "#news"},
	"instagram": {"#instadaily", "#photooftheday", "#inspo"},
	"linkedin":  {"#leadership", "#career", "#industry"},
}

var defaultTags = []string{"#update"}

// pickTopic selects a topic uniformly at random.
func pickTopic(rng *rand.Rand, topics []string) string {
	return strings.TrimSpace(topics[rng.Intn(len(topics))])
}

// compose renders a post body and tag set for topic.
func compose(rng *rand.Rand, topic, platform string) (string, content.Tags) {
	body := fmt.Sprintf(bodyTemplates[rng.Intn(len(bodyTemplates))], topic)

	extra, ok := platformTags[strings.ToLower(platform)]
	if !ok {
		extra = defaultTags
	}
	tags := make([]string, 0, 1+len(extra))
	if slug := hashtag(topic); slug != "" {
		tags = append(tags, slug)
	}
	tags = append(tags, extra...)
	return body, content.NewTags(tags...)
}

// hashtag folds topic into "#lowercasealnum".
func hashtag(topic string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(topic) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "#" + b.String()
}
