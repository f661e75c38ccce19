package caption

import (
	"context"
	"fmt"
	"strings"
)

// Task selects the caption granularity. The values are the task tokens the
// Florence-2 family of models is prompted with.
type Task string

const (
	TaskCaption             Task = "<CAPTION>"
	TaskDetailedCaption     Task = "<DETAILED_CAPTION>"
	TaskMoreDetailedCaption Task = "<MORE_DETAILED_CAPTION>"
)

// Tasks lists every supported task, shortest caption first.
var Tasks = []Task{TaskCaption, TaskDetailedCaption, TaskMoreDetailedCaption}

// Generation limits shared by all backends. Decoding is greedy so repeated
// calls on the same image and task give the same caption.
const (
	MaxNewTokens = 1024
	NumBeams     = 3
	Seed         = 42
)

var taskInstructions = map[Task]string{
	TaskCaption:             "Describe this image in one short sentence.",
	TaskDetailedCaption:     "Describe this image in detail in two or three sentences.",
	TaskMoreDetailedCaption: "Describe this image in as much detail as possible in a single paragraph: the main subject, the setting, colours, lighting, mood and any notable objects.",
}

// ParseTask accepts either the task token ("<CAPTION>") or a short name
// ("caption", "detailed", "more-detailed").
func ParseTask(s string) (Task, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "<caption>", "caption", "short":
		return TaskCaption, nil
	case "<detailed_caption>", "detailed", "detailed-caption":
		return TaskDetailedCaption, nil
	case "<more_detailed_caption>", "more-detailed", "more_detailed", "more-detailed-caption":
		return TaskMoreDetailedCaption, nil
	}
	return "", fmt.Errorf("unknown caption task %q", s)
}

// Valid reports whether t is one of Tasks.
func (t Task) Valid() bool {
	_, ok := taskInstructions[t]
	return ok
}

// Prompt returns the instruction sent to instruction-following backends,
// with extraText appended when set.
func (t Task) Prompt(extraText string) string {
	prompt := taskInstructions[t]
	if extraText = strings.TrimSpace(extraText); extraText != "" {
		prompt += "\n" + extraText
	}
	return prompt
}

// Result maps a task to the caption generated for it.
type Result map[Task]string

// Text returns the caption for task, or "" when absent.
func (r Result) Text(task Task) string {
	return r[task]
}

// Usage contains token usage and cost information.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	CostUSD      float64
}

// Generation is the raw output of a single backend call.
type Generation struct {
	Text  string
	Model string
	Usage Usage
}

// Captioner captions images.
type Captioner interface {
	// Caption generates a caption for img at the given granularity.
	Caption(ctx context.Context, img *Image, task Task, extraText string) (Result, error)
}

// Backend is a vision-language model runtime. Load is called exactly once
// before the first Generate.
type Backend interface {
	Name() string
	Load(ctx context.Context) error
	Generate(ctx context.Context, img *Image, prompt string) (*Generation, error)
}

var specialTokens = []string{"<s>", "</s>", "<pad>", "<unk>"}

// cleanGeneratedText strips special tokens and an echoed task token from
// raw model output.
func cleanGeneratedText(text string, task Task) string {
	for _, tok := range specialTokens {
		text = strings.ReplaceAll(text, tok, "")
	}
	text = strings.ReplaceAll(text, string(task), "")
	return strings.TrimSpace(text)
}
