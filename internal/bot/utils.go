package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lithammer/dedent"

	"github.com/raine/image-poet/internal/failure"
	"github.com/raine/image-poet/internal/poet"
)

func formatReplyText(text string, a ...any) string {
	return fmt.Sprintf(strings.TrimSpace(dedent.Dedent(text)), a...)
}

func parseCommand(s string) (string, []string) {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return "", nil
	}
	// Commands in groups arrive as /cmd@botname
	command, _, _ := strings.Cut(parts[0], "@")
	return command, parts[1:]
}

// escapeMarkdown escapes special characters for Telegram Markdown V1
func escapeMarkdown(text string) string {
	text = strings.ReplaceAll(text, "*", "\\*")
	text = strings.ReplaceAll(text, "_", "\\_")
	text = strings.ReplaceAll(text, "`", "\\`")
	text = strings.ReplaceAll(text, "[", "\\[")
	return text
}

// failureText renders an operation error for the user. Busy gets a fixed
// message, everything else is shown verbatim.
func failureText(err error) string {
	if errors.Is(err, failure.ErrBusy) {
		return MsgBusy
	}
	return fmt.Sprintf(MsgOperationFailed, escapeMarkdown(err.Error()))
}

// splitKeywordInput turns free text like "山, 水、月光" into keywords.
func splitKeywordInput(text string) poet.Keywords {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case ',', '，', '、', ';', '；', '\n':
			return true
		}
		return false
	})
	return poet.NormalizeKeywords(fields)
}
