package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/opspulse/opspulse/internal/alerts"
)

// renderTemplate substitutes alert fields into an action template. An empty
// template falls back to the alert message.
//
// Recognized placeholders: {{message}} {{severity}} {{timestamp}}
// {{ruleName}} {{value}}.
func renderTemplate(tmpl string, ev alerts.Event) string {
	if tmpl == "" {
		return ev.Message
	}
	r := strings.NewReplacer(
		"{{message}}", ev.Message,
		"{{severity}}", ev.Severity,
		"{{timestamp}}", ev.Timestamp.Format(time.RFC3339),
		"{{ruleName}}", ev.RuleName,
		"{{value}}", fmt.Sprintf("%.2f", ev.Value),
	)
	return r.Replace(tmpl)
}
