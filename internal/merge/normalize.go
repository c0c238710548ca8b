package merge

import (
	"bytes"
	"html"
	"strings"

	"github.com/tOgg1/agentsync/internal/models"
)

// Normalize derives sanitized HTML for a message once. Server supplied HTML
// is only sanitized; otherwise the text body is rendered as markdown.
// Calling it again on the same message is a no-op.
func (e *Engine) Normalize(msg *models.Message) {
	if msg == nil || msg.Sanitized {
		return
	}
	switch {
	case strings.TrimSpace(msg.BodyHTML) != "":
		msg.BodyHTML = e.policy.Sanitize(msg.BodyHTML)
	case msg.BodyText != "":
		msg.BodyHTML = e.render(msg.BodyText)
	}
	msg.Sanitized = true
}

func (e *Engine) render(text string) string {
	var buf bytes.Buffer
	if err := e.markdown.Convert([]byte(text), &buf); err != nil {
		return "<p>" + html.EscapeString(text) + "</p>"
	}
	return e.policy.Sanitize(buf.String())
}
