package projector

import (
	"fmt"

	"github.com/rpggio/optrack/internal/domain/operation"
	"github.com/rpggio/optrack/internal/mutation"
)

const promptLabelLength = 50

// Extractors holds the built-in entity name extractors.
var Extractors = map[operation.EntityType]mutation.NameExtractor{
	operation.EntityTodo:    TodoName,
	operation.EntitySubtask: SubtaskName,
	operation.EntityList:    ListName,
	operation.EntityAITodo:  AITodoName,
}

// TodoName labels a todo by its title.
func TodoName(vars any) string {
	return firstString(vars, "title", "Title", "name")
}

// SubtaskName labels a subtask by its title.
func SubtaskName(vars any) string {
	return firstString(vars, "title", "Title")
}

// ListName labels a list by its name.
func ListName(vars any) string {
	return firstString(vars, "name", "Name", "title")
}

// AITodoName labels an AI generation by a shortened prompt.
func AITodoName(vars any) string {
	prompt := firstString(vars, "prompt", "Prompt", "input")
	runes := []rune(prompt)
	if len(runes) > promptLabelLength {
		return string(runes[:promptLabelLength]) + "..."
	}
	return prompt
}

func firstString(vars any, names ...string) string {
	for _, name := range names {
		raw, ok := lookup(vars, name)
		if !ok || raw == nil {
			continue
		}
		if s, ok := raw.(string); ok && s != "" {
			return s
		}
		if s := fmt.Sprint(raw); s != "" && s != "<nil>" {
			return s
		}
	}
	return ""
}
