package teams

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// CardInput carries everything the incident card displays.
type CardInput struct {
	Subject        string
	Sender         string
	TriggerName    string
	Priority       string
	Timestamp      time.Time
	MachineName    string
	Infrastructure string
	JiraKey        string
	JiraBrowseURL  string // base issue URL, the key is appended
	Assignee       string
}

// Message is the webhook payload wrapping one adaptive card.
type Message struct {
	Type        string       `json:"type"`
	Attachments []Attachment `json:"attachments"`
}

type Attachment struct {
	ContentType string `json:"contentType"`
	Content     Card   `json:"content"`
}

type Card struct {
	Schema  string        `json:"$schema"`
	Type    string        `json:"type"`
	Version string        `json:"version"`
	Body    []interface{} `json:"body"`
	MSTeams MSTeams       `json:"msteams"`
}

type MSTeams struct {
	Width string `json:"width"`
}

type TextBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Weight   string `json:"weight,omitempty"`
	Size     string `json:"size,omitempty"`
	Wrap     bool   `json:"wrap,omitempty"`
	Spacing  string `json:"spacing,omitempty"`
	Color    string `json:"color,omitempty"`
	IsSubtle bool   `json:"isSubtle,omitempty"`
}

type Container struct {
	Type  string      `json:"type"`
	Style string      `json:"style,omitempty"`
	Items []TextBlock `json:"items"`
	Bleed bool        `json:"bleed,omitempty"`
}

type Column struct {
	Type  string      `json:"type"`
	Width string      `json:"width"`
	Items []TextBlock `json:"items"`
}

type ColumnSet struct {
	Type      string   `json:"type"`
	Columns   []Column `json:"columns"`
	Separator bool     `json:"separator"`
}

type ActionSet struct {
	Type    string   `json:"type"`
	Actions []Action `json:"actions"`
}

type Action struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

var senderEmailRe = regexp.MustCompile(`<?([\w.-]+@[\w.-]+)>?`)

// cleanSender pulls the bare address out of a display-name sender.
func cleanSender(sender string) string {
	if m := senderEmailRe.FindStringSubmatch(sender); m != nil {
		return m[1]
	}
	return strings.TrimSpace(strings.ReplaceAll(sender, `"`, ""))
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Format("2006-01-02 15:04") + " CST"
}

func tableRow(label, value string, bold bool) ColumnSet {
	left := TextBlock{Type: "TextBlock", Text: label, Wrap: true}
	right := TextBlock{Type: "TextBlock", Text: value, Wrap: true}
	if bold {
		left = TextBlock{Type: "TextBlock", Text: label, Weight: "Bolder"}
		right = TextBlock{Type: "TextBlock", Text: value, Weight: "Bolder"}
	}
	return ColumnSet{
		Type: "ColumnSet",
		Columns: []Column{
			{Type: "Column", Width: "150px", Items: []TextBlock{left}},
			{Type: "Column", Width: "350px", Items: []TextBlock{right}},
		},
		Separator: true,
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// BuildCard renders the incident notification card.
func BuildCard(in CardInput) Message {
	greeting := in.Assignee
	if greeting == "" {
		greeting = "Team"
	}

	body := []interface{}{
		Container{
			Type:  "Container",
			Style: "emphasis",
			Items: []TextBlock{
				{Type: "TextBlock", Text: "MS Teams Incident Notification", Weight: "Bolder", Size: "Large"},
			},
			Bleed: true,
		},
		TextBlock{Type: "TextBlock", Text: fmt.Sprintf("**Incident Notification: %s**", in.Subject),
			Wrap: true, Spacing: "Medium", Size: "Medium", Weight: "Bolder"},
		TextBlock{Type: "TextBlock", Text: fmt.Sprintf("Hi %s,", greeting), Wrap: true, Spacing: "Medium"},
		TextBlock{Type: "TextBlock",
			Text:    "The ControlUp monitoring system has reported an incident. Please review the details below and take appropriate action:",
			Wrap:    true,
			Spacing: "Small"},
		TextBlock{Type: "TextBlock", Text: "**Incident Details**", Weight: "Bolder", Spacing: "Medium"},
		tableRow("**Details**", "**Value**", true),
		tableRow("Source", cleanSender(in.Sender), false),
		tableRow("Resource Name", orNA(in.MachineName), false),
		tableRow("Trigger Name", orNA(in.TriggerName), false),
		tableRow("Priority", in.Priority, false),
		tableRow("Incident Timestamp", formatTimestamp(in.Timestamp), false),
	}
	if in.Infrastructure != "" {
		body = append(body, tableRow("Infrastructure", in.Infrastructure, false))
	}
	if in.JiraKey != "" {
		body = append(body, tableRow("JIRA Ticket", in.JiraKey, false))
	}
	if in.Assignee != "" {
		body = append(body, tableRow("Assignee", in.Assignee, false))
	}

	ticketURL := ""
	if in.JiraKey != "" {
		ticketURL = strings.TrimRight(in.JiraBrowseURL, "/") + "/browse/" + in.JiraKey
		body = append(body, TextBlock{
			Type:    "TextBlock",
			Text:    fmt.Sprintf("[%s](%s)", ticketURL, ticketURL),
			Wrap:    true,
			Spacing: "Small",
			Color:   "Accent",
		})
	}

	body = append(body, TextBlock{
		Type:     "TextBlock",
		Text:     "_Reported via: AI Monitoring Tool_",
		IsSubtle: true,
		Wrap:     true,
		Spacing:  "Small",
	})

	if in.JiraKey != "" {
		body = append(body, ActionSet{
			Type: "ActionSet",
			Actions: []Action{
				{Type: "Action.OpenUrl", Title: "View JIRA Ticket", URL: ticketURL},
			},
		})
	}

	return Message{
		Type: "message",
		Attachments: []Attachment{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content: Card{
				Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
				Type:    "AdaptiveCard",
				Version: "1.4",
				Body:    body,
				MSTeams: MSTeams{Width: "Full"},
			},
		}},
	}
}
