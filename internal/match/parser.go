// Package match implements the game loop that plays two model-driven
// players against each other: parsing model output, resolving moves against
// the board, and publishing events to viewers.
package match

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/vibechess-server/internal/obslog"
)

// DefaultEmotion is substituted when the model names an emotion outside the
// known set.
const DefaultEmotion = "stone_wall"

var validEmotions = map[string]struct{}{
	"grandmaster_trance":  {},
	"instant_regret":      {},
	"smug_trap_setter":    {},
	"bewildered_analyst":  {},
	"stone_wall":          {},
	"predator":            {},
	"resigned_king":       {},
	"impatient_speedster": {},
	"eureka_moment":       {},
}

// ValidEmotions returns the known emotion keys in stable order.
func ValidEmotions() []string {
	return []string{
		"grandmaster_trance",
		"instant_regret",
		"smug_trap_setter",
		"bewildered_analyst",
		"stone_wall",
		"predator",
		"resigned_king",
		"impatient_speedster",
		"eureka_moment",
	}
}

var (
	moveRe       = regexp.MustCompile(`(?i)MOVE:\s*(.+?)(?:\n|$)`)
	commentRe    = regexp.MustCompile(`(?is)COMMENT:\s*(.+?)(?:\n(?:COMMENTARY|MY_EMOTION|OPPONENT_EMOTION):|$)`)
	commentaryRe = regexp.MustCompile(`(?is)COMMENTARY:\s*(.+?)(?:\n(?:MY_EMOTION|OPPONENT_EMOTION):|$)`)
	myEmotionRe  = regexp.MustCompile(`(?i)MY_EMOTION:\s*(\S+)`)
	oppEmotionRe = regexp.MustCompile(`(?i)OPPONENT_EMOTION:\s*(\S+)`)

	// Last-ditch scan for anything move-shaped when the model skipped the
	// MOVE: label entirely.
	moveShapeRe = regexp.MustCompile(`\b([KQRBN]?[a-h]?[1-8]?x?[a-h][1-8](?:=[QRBN])?[+#]?|O-O(?:-O)?)\b`)
)

// ParsedResponse holds the labeled fields extracted from raw model text.
// Empty string means the field was absent.
type ParsedResponse struct {
	Move            string
	Comment         string
	Commentary      string
	MyEmotion       string
	OpponentEmotion string
}

// ParseResponse extracts the labeled fields from the model's reply. The
// format is brittle by nature, so every field is best-effort: a missing or
// garbled label yields an empty field, never an error. Unknown emotions are
// coerced to DefaultEmotion.
func ParseResponse(text string) ParsedResponse {
	p := ParsedResponse{
		Move:            extractField(moveRe, text),
		Comment:         extractField(commentRe, text),
		Commentary:      extractField(commentaryRe, text),
		MyEmotion:       extractField(myEmotionRe, text),
		OpponentEmotion: extractField(oppEmotionRe, text),
	}

	if p.Move == "" {
		if m := moveShapeRe.FindString(text); m != "" {
			p.Move = m
		}
	}

	p.MyEmotion = coerceEmotion(p.MyEmotion, "my_emotion")
	p.OpponentEmotion = coerceEmotion(p.OpponentEmotion, "opponent_emotion")
	return p
}

func extractField(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func coerceEmotion(v, field string) string {
	if v == "" {
		return ""
	}
	if _, ok := validEmotions[v]; ok {
		return v
	}
	obslog.L().Warn("unknown emotion from model, coercing",
		zap.String("field", field), zap.String("value", v))
	return DefaultEmotion
}
