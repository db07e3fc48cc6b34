package service

import (
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// MessageTemplate is one operator-facing message body. Bodies use Go
// template placeholders; Vars lists the values a render must supply.
type MessageTemplate struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Subject     string   `json:"subject,omitempty"`
	Body        string   `json:"body"`
	Vars        []string `json:"vars"`
}

// RenderedTemplate is the output of filling a template with vars.
type RenderedTemplate struct {
	Name    string `json:"name"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

var messageTemplates = map[string]MessageTemplate{
	"ticket_delivery": {
		Name:        "ticket_delivery",
		Description: "Full ticket message with the download link",
		Subject:     "Your tickets for {{.tour_name}}",
		Body: "Hello {{.customer_name}},\n\n" +
			"your tickets for {{.tour_name}} on {{.tour_date}} are ready.\n" +
			"Download them here: {{.download_url}}\n\n" +
			"See you at the meeting point!",
		Vars: []string{"customer_name", "tour_name", "tour_date", "download_url"},
	},
	"ticket_ready_notice": {
		Name:        "ticket_ready_notice",
		Description: "Short notice that the ticket went out on another channel",
		Body:        "{{.customer_name}}, your {{.tour_name}} tickets were sent to your email. Check your inbox.",
		Vars:        []string{"customer_name", "tour_name"},
	},
	"tour_reminder": {
		Name:        "tour_reminder",
		Description: "Day-before reminder with the meeting point",
		Body: "Reminder: {{.tour_name}} starts {{.tour_date}} at {{.start_time}}.\n" +
			"Meeting point: {{.meeting_point}}.",
		Vars: []string{"tour_name", "tour_date", "start_time", "meeting_point"},
	},
}

// Templates lists the catalog sorted by name.
func Templates() []MessageTemplate {
	out := make([]MessageTemplate, 0, len(messageTemplates))
	for _, t := range messageTemplates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RenderTemplate fills a catalog template with the given vars. Unknown
// template names and missing vars are errors; a blank never goes out.
func RenderTemplate(name string, vars map[string]string) (*RenderedTemplate, error) {
	tpl, ok := messageTemplates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	body, err := renderText(tpl.Body, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to render template %s: %w", name, err)
	}
	subject, err := renderText(tpl.Subject, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to render template %s subject: %w", name, err)
	}

	return &RenderedTemplate{Name: name, Subject: subject, Body: body}, nil
}

func renderText(text string, vars map[string]string) (string, error) {
	if text == "" {
		return "", nil
	}
	t, err := template.New("message").Option("missingkey=error").Parse(text)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := t.Execute(&sb, vars); err != nil {
		return "", err
	}
	return sb.String(), nil
}
