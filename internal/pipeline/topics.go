package pipeline

import (
	"context"
)

// Topic is one learned topic with optional subtopics.
type Topic struct {
	Name      string   `json:"name"`
	Subtopics []string `json:"subtopics,omitempty"`
}

// TopicLearner derives the topic set for a comment batch. The heuristic
// implementation below is the reference behavior; a real classifier swaps in
// behind the same contract without touching the orchestration.
type TopicLearner interface {
	LearnTopics(ctx context.Context, comments []Comment) ([]Topic, error)
}

// Categorizer assigns each comment exactly one learned topic.
type Categorizer interface {
	Categorize(ctx context.Context, comments []Comment, topics []Topic) ([]Comment, error)
}

// defaultTopicName seeds the topic set when no comment carries a label.
const defaultTopicName = "General"

// LabelTopicLearner aggregates explicit topic/subtopic labels in order of
// first appearance, or falls back to the fixed default set when the CSV has
// no labels at all.
type LabelTopicLearner struct{}

func NewLabelTopicLearner() *LabelTopicLearner { return &LabelTopicLearner{} }

func (l *LabelTopicLearner) LearnTopics(ctx context.Context, comments []Comment) ([]Topic, error) {
	var order []string
	subtopics := make(map[string][]string)
	seen := make(map[string]map[string]bool)

	for _, c := range comments {
		if c.Topic == "" {
			continue
		}
		if _, ok := seen[c.Topic]; !ok {
			seen[c.Topic] = make(map[string]bool)
			order = append(order, c.Topic)
		}
		if c.Subtopic != "" && !seen[c.Topic][c.Subtopic] {
			seen[c.Topic][c.Subtopic] = true
			subtopics[c.Topic] = append(subtopics[c.Topic], c.Subtopic)
		}
	}

	if len(order) == 0 {
		return []Topic{{Name: defaultTopicName}}, nil
	}

	topics := make([]Topic, 0, len(order))
	for _, name := range order {
		topics = append(topics, Topic{Name: name, Subtopics: subtopics[name]})
	}
	return topics, nil
}

// FirstTopicCategorizer keeps a comment's own label when it matches a
// learned topic and assigns the first learned topic otherwise, so every
// comment ends up in exactly one topic.
type FirstTopicCategorizer struct{}

func NewFirstTopicCategorizer() *FirstTopicCategorizer { return &FirstTopicCategorizer{} }

func (c *FirstTopicCategorizer) Categorize(ctx context.Context, comments []Comment, topics []Topic) ([]Comment, error) {
	known := make(map[string]bool, len(topics))
	for _, t := range topics {
		known[t.Name] = true
	}
	fallback := ""
	if len(topics) > 0 {
		fallback = topics[0].Name
	}

	out := make([]Comment, len(comments))
	for i, comment := range comments {
		out[i] = comment
		if !known[comment.Topic] {
			out[i].Topic = fallback
			out[i].Subtopic = ""
		}
	}
	return out, nil
}
