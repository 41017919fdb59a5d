package brain

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"basegraph.app/courier/internal/domain"
)

type renderedThread struct {
	Platform     string            `yaml:"platform"`
	Trigger      renderedMessage   `yaml:"trigger"`
	Thread       []renderedMessage `yaml:"thread"`
	Participants []string          `yaml:"participants"`
	Gaps         []string          `yaml:"missing,omitempty"`
	Truncated    bool              `yaml:"truncated,omitempty"`
	Notes        map[string]string `yaml:"notes,omitempty"`
}

type renderedMessage struct {
	ID        string `yaml:"id"`
	ReplyTo   string `yaml:"reply_to,omitempty"`
	Author    string `yaml:"author"`
	Kind      string `yaml:"kind,omitempty"`
	Text      string `yaml:"text"`
	CreatedAt string `yaml:"created_at"`
}

// RenderThread renders the context as the YAML document the reasoner reads.
func RenderThread(tc domain.ThreadContext, notes map[string]string) (string, error) {
	doc := renderedThread{
		Platform: string(tc.RootEvent.Platform),
		Trigger: renderedMessage{
			ID:        tc.RootEvent.ID,
			Author:    tc.RootEvent.AuthorHandle,
			Kind:      string(tc.RootEvent.Kind),
			Text:      tc.RootEvent.Text,
			CreatedAt: tc.RootEvent.CreatedAt.UTC().Format(time.RFC3339),
		},
		Participants: tc.ParticipantHandles,
		Gaps:         tc.Gaps,
		Truncated:    tc.Truncated,
		Notes:        notes,
	}
	for _, m := range tc.OrderedMessages {
		doc.Thread = append(doc.Thread, renderedMessage{
			ID:        m.ID,
			ReplyTo:   m.ParentID,
			Author:    m.AuthorHandle,
			Text:      m.Text,
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("rendering thread: %w", err)
	}
	return string(out), nil
}
