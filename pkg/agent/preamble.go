package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harun/agentic/pkg/message"
	"github.com/harun/agentic/pkg/toolexecutor"
)

const customToolReminder = `Think very carefully before calling functions.
If a you choose to call a function ONLY reply in the following format with no prefix or suffix:

<function=example_function_name>{"example_name": "example_value"}</function>

Reminder:
- If looking for real time information use relevant functions before falling back to brave_search
- Function calls MUST follow the specified format, start with <function= and end with </function>
- Required parameters MUST be specified
- Only call one function at a time
- Put the entire function call reply on one line

`

// BuildPreamble renders the system message that describes the environment
// and tool catalogue to the model
func BuildPreamble(builtins []string, custom []toolexecutor.ToolDefinition, instructions string, now time.Time) message.SystemMessage {
	var b strings.Builder

	if len(builtins) > 0 {
		b.WriteString("Environment: ipython\n")
		var listed []string
		for _, name := range builtins {
			if name != string(toolexecutor.CodeInterpreter) {
				listed = append(listed, name)
			}
		}
		if len(listed) > 0 {
			fmt.Fprintf(&b, "Tools: %s\n", strings.Join(listed, ", "))
		}
	}

	fmt.Fprintf(&b, "\nCutting Knowledge Date: December 2023\nToday Date: %s\n\n", now.Format("02 January 2006"))

	if len(custom) > 0 {
		b.WriteString("\nYou have access to the following functions:\n\n")
		for _, def := range custom {
			fmt.Fprintf(&b, "Use the function '%s' to '%s'\n", def.Name, def.Description)
			b.WriteString(customToolParameters(def))
			b.WriteString("\n\n")
		}
		b.WriteString(customToolReminder)
	}

	if instructions != "" {
		b.WriteString(instructions)
	}

	return message.SystemMessage{Content: b.String()}
}

func customToolParameters(def toolexecutor.ToolDefinition) string {
	type param struct {
		ParamType   string      `json:"param_type"`
		Description string      `json:"description"`
		Required    bool        `json:"required"`
		Default     interface{} `json:"default,omitempty"`
	}
	params := make(map[string]param, len(def.Parameters))
	for _, p := range def.Parameters {
		params[p.Name] = param{
			ParamType:   p.Type,
			Description: p.Description,
			Required:    p.Required,
			Default:     p.Default,
		}
	}
	data, err := json.Marshal(struct {
		Name        string           `json:"name"`
		Description string           `json:"description"`
		Parameters  map[string]param `json:"parameters"`
	}{def.Name, def.Description, params})
	if err != nil {
		return "{}"
	}
	return string(data)
}
