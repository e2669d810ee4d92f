// Package escalate classifies assistant replies as "requires human" or
// "continue automated". It is a deliberately conservative keyword
// classifier: a false positive escalates early, a false negative leaves
// a client stuck with the assistant, so the marker list stays broad.
package escalate

import "strings"

// FailureNotice is the canned system message posted when the completion
// service failed and no assistant reply exists to inspect.
const FailureNotice = "The assistant is unavailable right now. We're connecting you with a human agent."

// defaultMarkers are matched case-insensitively against the assistant's
// reply. Includes localized equivalents shipped to our client bases.
var defaultMarkers = []string{
	"escalate",
	"human agent",
	"hand over to an agent",
	"handing you over",
	"i don't understand",
	"i do not understand",
	"i'm not sure i can help",
	"speak to a human",
	"speak with a human",
	"talk to a human",
	"talk to an agent",
	"contact support",
	"transfer you to",
	"a colleague will",
	// es
	"agente humano",
	"hablar con una persona",
	// de
	"menschlichen mitarbeiter",
	"an einen mitarbeiter",
	// fr
	"agent humain",
	"parler à un conseiller",
}

type Detector struct {
	markers []string
}

// NewDetector builds a detector over the given markers; with none it
// uses the default list.
func NewDetector(markers ...string) *Detector {
	if len(markers) == 0 {
		markers = defaultMarkers
	}
	lowered := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			lowered = append(lowered, m)
		}
	}
	return &Detector{markers: lowered}
}

// Detect reports whether the reply signals a handoff, and the matched
// marker as a human-readable reason.
func (d *Detector) Detect(reply string) (bool, string) {
	text := strings.ToLower(reply)
	for _, m := range d.markers {
		if strings.Contains(text, m) {
			return true, "assistant reply matched handoff marker: " + m
		}
	}
	return false, ""
}
