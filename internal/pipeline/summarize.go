package pipeline

import (
	"context"
	"fmt"
)

// maxCitations caps how many comment ids a single summary node cites.
const maxCitations = 10

// SummaryNode is one node of the recursive summary document. Topic nodes
// nest subtopic nodes through Children.
type SummaryNode struct {
	Title     string        `json:"title,omitempty"`
	Text      string        `json:"text"`
	Citations []string      `json:"citations,omitempty"`
	Children  []SummaryNode `json:"children,omitempty"`
}

// Summarizer produces the summary document for categorized comments. The
// heuristic implementation is the plug-in point for a real summarization
// model.
type Summarizer interface {
	Summarize(ctx context.Context, comments []Comment, topics []Topic) ([]SummaryNode, error)
}

// HeuristicSummarizer emits an overview node followed by one node per
// learned topic, citing the comments assigned to each.
type HeuristicSummarizer struct{}

func NewHeuristicSummarizer() *HeuristicSummarizer { return &HeuristicSummarizer{} }

func (s *HeuristicSummarizer) Summarize(ctx context.Context, comments []Comment, topics []Topic) ([]SummaryNode, error) {
	var agrees, disagrees, passes int
	byTopic := make(map[string][]Comment)
	bySubtopic := make(map[string]map[string][]Comment)
	for _, c := range comments {
		agrees += c.Agrees
		disagrees += c.Disagrees
		passes += c.Passes
		byTopic[c.Topic] = append(byTopic[c.Topic], c)
		if c.Subtopic != "" {
			if bySubtopic[c.Topic] == nil {
				bySubtopic[c.Topic] = make(map[string][]Comment)
			}
			bySubtopic[c.Topic][c.Subtopic] = append(bySubtopic[c.Topic][c.Subtopic], c)
		}
	}

	nodes := make([]SummaryNode, 0, len(topics)+1)
	nodes = append(nodes, SummaryNode{
		Title: "Overview",
		Text: fmt.Sprintf("Analyzed %d comments across %d topics. Votes: %d agree, %d disagree, %d pass.",
			len(comments), len(topics), agrees, disagrees, passes),
	})

	for _, topic := range topics {
		assigned := byTopic[topic.Name]
		node := SummaryNode{
			Title:     topic.Name,
			Text:      fmt.Sprintf("%d comments were assigned to %q.", len(assigned), topic.Name),
			Citations: citations(assigned),
		}
		for _, sub := range topic.Subtopics {
			subAssigned := bySubtopic[topic.Name][sub]
			node.Children = append(node.Children, SummaryNode{
				Title:     sub,
				Text:      fmt.Sprintf("%d comments were assigned to %q.", len(subAssigned), sub),
				Citations: citations(subAssigned),
			})
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func citations(comments []Comment) []string {
	if len(comments) == 0 {
		return nil
	}
	n := len(comments)
	if n > maxCitations {
		n = maxCitations
	}
	out := make([]string, 0, n)
	for _, c := range comments[:n] {
		out = append(out, c.ID)
	}
	return out
}
