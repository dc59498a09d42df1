package captcha

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ternlabs/tern/internal/agent/config"
)

var refusalPhrases = []string{
	"i cannot", "i can't", "i'm sorry", "i am sorry", "unable to",
	"as an ai", "i don't see", "i do not see", "cannot determine",
}

var ambiguousChars = "O0Il1"

// ScoreImageConfidence derives the vision pass's own confidence in its
// answer from the answer text alone — no numeric confidence is trusted
// from the model, since providers vary widely in how well-calibrated a
// self-reported number is (spec.md §4.7 "derived from answer-length
// plausibility, presence of refusal phrases, ambiguous-character
// penalty, and format cleanliness").
func ScoreImageConfidence(answer string) float64 {
	trimmed := strings.TrimSpace(answer)
	lower := strings.ToLower(trimmed)

	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return 0.0
		}
	}

	score := 1.0

	switch n := len(trimmed); {
	case n == 0:
		return 0.0
	case n < 3 || n > 10:
		score -= 0.3
	case n >= 4 && n <= 8:
		// ideal plausible length for a short text/math CAPTCHA answer
	default:
		score -= 0.1
	}

	ambiguous := 0
	for _, r := range trimmed {
		if strings.ContainsRune(ambiguousChars, r) {
			ambiguous++
		}
	}
	if ambiguous > 0 {
		score -= 0.05 * float64(ambiguous)
	}

	if !isClean(trimmed) {
		score -= 0.2
	}

	return clamp01(score)
}

// isClean reports whether answer contains only alphanumerics — no
// whitespace, punctuation, or stray quoting the model sometimes wraps
// answers in.
func isClean(answer string) bool {
	for _, r := range answer {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return answer != ""
}

var validationLine = regexp.MustCompile(`valid\s*=\s*(true|false)\s+confidence\s*=\s*([0-9.]+)`)

// parseValidation extracts the text model's validity judgment and
// confidence from its one-line reply. An unparseable reply is treated as
// a low-confidence non-validation rather than an error, since the text
// model is advisory, not authoritative.
func parseValidation(reply string) (confidence float64, valid bool) {
	m := validationLine.FindStringSubmatch(strings.ToLower(reply))
	if m == nil {
		return 0.3, false
	}
	valid = m[1] == "true"
	confidence, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return 0.3, valid
	}
	return clamp01(confidence), valid
}

// formatAppropriate reports whether answer's shape matches what captchaType
// expects, earning the format bonus in Combine.
func formatAppropriate(t Type, answer string) bool {
	trimmed := strings.TrimSpace(answer)
	switch t {
	case TypeMath:
		_, err := strconv.Atoi(trimmed)
		return err == nil
	case TypeText:
		return isClean(trimmed) && len(trimmed) >= 3 && len(trimmed) <= 10
	case TypeImageGrid:
		return len(trimmed) > 0
	default:
		return isClean(trimmed)
	}
}

// penalties bundles the score.Combine deductions scorePenalties computes
// from the raw answer and the text validator's verdict.
type penalties struct {
	answerTooLong     bool
	hasSpaces         bool
	validatorRejected bool
}

func scorePenalties(answer string, validatorSaysValid bool) penalties {
	return penalties{
		answerTooLong:     len(strings.TrimSpace(answer)) > 12,
		hasSpaces:         strings.Contains(answer, " "),
		validatorRejected: !validatorSaysValid,
	}
}

// Combine applies spec.md §4.7's weighted formula:
//
//	score = 0.6*imageConf + 0.3*contextConf + bonus(0.1 if format-appropriate)
//	        - 0.15 if answer too long - 0.1 if it contains spaces
//	        - 0.2 if the text validator rejected it
func Combine(imageConf, contextConf float64, formatOK bool, p penalties) float64 {
	score := 0.6*imageConf + 0.3*contextConf
	if formatOK {
		score += 0.1
	}
	if p.answerTooLong {
		score -= 0.15
	}
	if p.hasSpaces {
		score -= 0.1
	}
	if p.validatorRejected {
		score -= 0.2
	}
	return clamp01(score)
}

// BandFor maps a combined score onto its decision band using th's cutoffs.
func BandFor(score float64, th config.CaptchaThresholds) Band {
	switch {
	case score >= th.High:
		return BandHigh
	case score >= th.Good:
		return BandGood
	case score >= th.Medium:
		return BandMedium
	default:
		return BandLow
	}
}

func actionFor(b Band) Action {
	switch b {
	case BandHigh:
		return ActionSubmit
	case BandGood:
		return ActionSubmitRetryOnReject
	case BandMedium:
		return ActionSubmitThenEscalate
	default:
		return ActionEscalate
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
