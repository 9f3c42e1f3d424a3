package router

import (
	"regexp"
	"strings"
)

// infraPatterns map trigger-name prefixes to infrastructure groups.
// Order matters: the OI variants must run before the generic ones.
var infraPatterns = []struct {
	re    *regexp.Regexp
	label string
}{
	{regexp.MustCompile(`^OI[-\s]?IBS`), "OI-IBS"},
	{regexp.MustCompile(`^OI[-\s]?RDA`), "OI-RDA"},
	{regexp.MustCompile(`^OI[-\s]?BA`), "OI-BA"},
	{regexp.MustCompile(`^OI[-\s]?TC`), "OI-TC"},
	{regexp.MustCompile(`^CITRIX`), "Citrix"},
	{regexp.MustCompile(`^DKSGD`), "DKSGD"},
	{regexp.MustCompile(`^ITVIC`), "ITVIC"},
	{regexp.MustCompile(`^TRIGONOVA`), "Trigonova"},
	{regexp.MustCompile(`^ACC`), "ACC"},
}

// infraGroups are the labels that form an "<x> Infrastructure" channel;
// everything else gets the "Technical" suffix.
var infraGroups = map[string]bool{
	"OI-RDA": true, "OI-IBS": true, "Citrix": true, "OI-BA": true,
	"OI-TC": true, "DKSGD": true, "Trigonova": true, "ITVIC": true,
}

// ExtractInfrastructure derives the infrastructure channel label from a
// trigger name prefix, e.g. "CITRIX PVS Service up" → "Citrix
// Infrastructure". Empty when no prefix matches.
func ExtractInfrastructure(triggerName string) string {
	if triggerName == "" {
		return ""
	}
	upper := strings.ToUpper(strings.TrimSpace(triggerName))
	for _, p := range infraPatterns {
		if !p.re.MatchString(upper) {
			continue
		}
		if infraGroups[p.label] {
			return p.label + " Infrastructure"
		}
		return p.label + " Technical"
	}
	return ""
}

// machinePatterns pull a machine name out of alert text, most specific
// first. The bare all-caps pattern is the last resort.
var machinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Machine\s+([A-Za-z0-9]+)\.bitzer`),
	regexp.MustCompile(`(?i)Computer\s+([A-Za-z0-9]+)\.bitzer`),
	regexp.MustCompile(`(?i)on\s+([A-Za-z0-9]+)\s+\(`),
	regexp.MustCompile(`([A-Z]{2}[A-Z0-9]{3,}[0-9]+)`),
}

// ExtractMachineName resolves the affected machine for an alert.
// A classified resource name wins (trimmed of domain/address suffixes);
// otherwise subject and body are scanned with the fallback patterns.
// Empty when nothing matches.
func ExtractMachineName(resourceName, subject, body string) string {
	if resourceName != "" {
		name := resourceName
		if i := strings.Index(name, "@"); i >= 0 {
			name = name[:i]
		} else if strings.Contains(strings.ToLower(name), ".bitzer") {
			name = strings.SplitN(name, ".", 2)[0]
		}
		return strings.ToUpper(name)
	}
	for _, text := range []string{subject, body} {
		for _, re := range machinePatterns {
			if m := re.FindStringSubmatch(text); m != nil {
				return strings.ToUpper(m[1])
			}
		}
	}
	return ""
}
