package jira

import (
	"regexp"
	"strings"
)

// PriorityName converts a pipeline priority to a Jira priority name.
func PriorityName(priority string) string {
	switch priority {
	case "P1":
		return "Highest"
	case "P2":
		return "High"
	case "P3":
		return "Medium"
	case "Informational":
		return "Low"
	case "NA":
		return "Lowest"
	default:
		return "Medium"
	}
}

// Category buckets an alert by its content for reporting.
func Category(subject, body string) string {
	combined := lower(subject + " " + body)
	switch {
	case strings.Contains(combined, "citrix") || strings.Contains(combined, "pvs"):
		return "CITRIX"
	case strings.Contains(combined, "sap"):
		return "SAP"
	case strings.Contains(combined, "hypervisor") || strings.Contains(combined, "vmware"):
		return "Hypervisor/VMware"
	case strings.Contains(combined, "bitzer"):
		return "BITZER"
	case strings.Contains(combined, "controlup"):
		return "ControlUp"
	default:
		return "General"
	}
}

var (
	fieldLineRe    = regexp.MustCompile(`(?i)^\s*([A-Za-z][\w\s\(\)\+\-\.\/]+?):\s*(.+?)(?:\s*<controlup://[^>]+>)?\s*$`)
	valueChangedRe = regexp.MustCompile(`(?i)^\s*(Value changed from .+?)\s*$`)
)

// skipFields are boilerplate headers that look like "Field: value"
// lines but carry no incident data.
var skipFields = []string{
	"Organization Name",
	"In order to configure",
	"This is an automated",
	"The monitored resource",
	"A process was terminated",
}

// BuildDescription extracts the "Field: value" lines from an alert
// body into a ticket description. Alert types carry different fields;
// whatever is present is carried over in order of appearance.
func BuildDescription(body string) string {
	var sb strings.Builder
	sb.WriteString("Organization Name: Bitzer\n\n")

	for _, line := range splitLines(body) {
		if m := fieldLineRe.FindStringSubmatch(line); m != nil {
			name := strings.TrimSpace(m[1])
			value := strings.TrimSpace(m[2])
			if value == "" || isSkipped(name) {
				continue
			}
			sb.WriteString(name + ": " + value + "\n\n")
			continue
		}
		if m := valueChangedRe.FindStringSubmatch(line); m != nil {
			sb.WriteString(strings.TrimSpace(m[1]) + "\n\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func isSkipped(fieldName string) bool {
	for _, skip := range skipFields {
		if strings.Contains(fieldName, skip) {
			return true
		}
	}
	return false
}

func splitLines(body string) []string {
	return strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
}

var unsafeFilenameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeFilename makes an attachment filename safe: unsafe runes
// become underscores and the stem is capped at 50 characters.
func SanitizeFilename(name string) string {
	ext := ""
	stem := name
	if i := strings.LastIndex(name, "."); i > 0 {
		stem, ext = name[:i], name[i:]
	}
	stem = unsafeFilenameRe.ReplaceAllString(stem, "_")
	ext = unsafeFilenameRe.ReplaceAllString(ext, "_")
	if len(stem) > 50 {
		stem = stem[:50]
	}
	return stem + ext
}

func lower(s string) string { return strings.ToLower(s) }
