// Package clinical decides whether a call summary needs clinical attention.
//
// Classification goes through a zero-shot model when a key is available and always
// degrades to the deterministic keyword classifier, so a valid summary always yields
// a Verdict.
package clinical

const (
	LabelNormal         = "normal"
	LabelNeedsAttention = "needs clinical attention"

	ResultNormal         = "✅ Normal"
	ResultNeedsAttention = "⚠️ Needs Clinical Attention"

	MethodZeroShot = "huggingface-zero-shot"
	MethodKeyword  = "keyword"
)

// CanonicalLabels is the label order every Verdict reports its scores in.
var CanonicalLabels = [2]string{LabelNormal, LabelNeedsAttention}

// Verdict is the classification outcome. Scores are percentages aligned with Labels.
type Verdict struct {
	Labels          [2]string  `json:"labels"`
	Scores          [2]float64 `json:"scores"`
	Result          string     `json:"result"`
	Method          string     `json:"method"`
	Model           string     `json:"model,omitempty"`
	MatchedKeywords []string   `json:"matched_keywords,omitempty"`
}

func (v Verdict) NeedsAttention() bool {
	return v.Result == ResultNeedsAttention
}

func (v Verdict) NormalScore() float64 {
	return v.Scores[0]
}

func (v Verdict) AttentionScore() float64 {
	return v.Scores[1]
}
