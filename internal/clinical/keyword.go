package clinical

import "strings"

// urgencyKeywords is matched as lower-case substrings; the order is the order
// matches are reported in.
var urgencyKeywords = []string{
	"emergency", "urgent", "immediate", "severe", "extreme",
	"critical", "acute", "danger", "worsening", "deteriorating",
	"unbearable", "intense", "excruciating", "collapse", "unconscious",
	"bleeding", "chest pain", "difficulty breathing", "confusion",
	"infection", "fever", "swelling", "discharge", "pain",
}

// Keywords returns a copy of the urgency keyword list.
func Keywords() []string {
	out := make([]string, len(urgencyKeywords))
	copy(out, urgencyKeywords)
	return out
}

// ClassifyKeywords flags text that mentions any urgency keyword. It never fails.
func ClassifyKeywords(text string) Verdict {
	lower := strings.ToLower(text)

	var matches []string
	for _, keyword := range urgencyKeywords {
		if strings.Contains(lower, keyword) {
			matches = append(matches, keyword)
		}
	}

	if len(matches) > 0 {
		return Verdict{
			Labels:          CanonicalLabels,
			Scores:          [2]float64{10, 90},
			Result:          ResultNeedsAttention,
			Method:          MethodKeyword,
			MatchedKeywords: matches,
		}
	}
	return Verdict{
		Labels: CanonicalLabels,
		Scores: [2]float64{90, 10},
		Result: ResultNormal,
		Method: MethodKeyword,
	}
}
