package copilot

import "strings"

// Decision is how a free-text reply relates to a pending update.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionConfirm
	DecisionReject
)

var confirmPatterns = []string{
	"yes", "y", "yep", "yeah", "yup", "ok", "okay", "sure", "confirm", "confirmed",
	"correct", "right", "save", "save it", "go ahead", "do it", "approve",
	"ใช่", "ตกลง", "ยืนยัน", "บันทึก", "โอเค", "ได้",
}

var rejectPatterns = []string{
	"no", "n", "nope", "nah", "cancel", "stop", "don't", "dont", "wrong",
	"discard", "never mind", "nevermind", "reject", "deny",
	"ไม่", "ไม่ใช่", "ยกเลิก", "ไม่ต้อง",
}

// matchApproval classifies short replies such as "yes", "ok", "no" or
// "cancel" sent while an update is pending. Long text never matches.
func matchApproval(content string) Decision {
	text := strings.ToLower(strings.TrimSpace(content))
	text = strings.TrimRight(text, ".!?")
	if text == "" || len([]rune(text)) > 40 {
		return DecisionNone
	}

	// Rejections first so "no, don't save" is not read as "save".
	for _, p := range rejectPatterns {
		if text == p || strings.HasPrefix(text, p+" ") || strings.HasPrefix(text, p+",") {
			return DecisionReject
		}
	}
	for _, p := range confirmPatterns {
		if text == p || strings.HasPrefix(text, p+" ") || strings.HasPrefix(text, p+",") {
			return DecisionConfirm
		}
	}
	return DecisionNone
}
