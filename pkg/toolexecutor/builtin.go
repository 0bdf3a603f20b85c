package toolexecutor

import "fmt"

// BuiltinTool names a tool the engine runs itself
type BuiltinTool string

const (
	BraveSearch     BuiltinTool = "brave_search"
	WolframAlpha    BuiltinTool = "wolfram_alpha"
	Photogen        BuiltinTool = "photogen"
	CodeInterpreter BuiltinTool = "code_interpreter"
)

var builtinTools = []BuiltinTool{BraveSearch, WolframAlpha, Photogen, CodeInterpreter}

// ParseBuiltin resolves a tool name to a BuiltinTool
func ParseBuiltin(name string) (BuiltinTool, error) {
	for _, b := range builtinTools {
		if string(b) == name {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown builtin tool: %s", name)
}

// IsBuiltin reports whether name is one of the builtin tools
func IsBuiltin(name string) bool {
	_, err := ParseBuiltin(name)
	return err == nil
}

// DefaultDefinition returns the stock definition for a builtin tool
func DefaultDefinition(b BuiltinTool) ToolDefinition {
	switch b {
	case BraveSearch:
		return ToolDefinition{
			Name:        string(b),
			Description: "Search the web for up-to-date information",
			Parameters: []ToolParameter{
				{Name: "query", Type: "string", Description: "The query to search for", Required: true},
			},
		}
	case WolframAlpha:
		return ToolDefinition{
			Name:        string(b),
			Description: "Answer math, science and unit questions with Wolfram Alpha",
			Parameters: []ToolParameter{
				{Name: "query", Type: "string", Description: "The query to compute", Required: true},
			},
		}
	case Photogen:
		return ToolDefinition{
			Name:        string(b),
			Description: "Generate an image from a text prompt",
			Parameters: []ToolParameter{
				{Name: "query", Type: "string", Description: "Description of the image", Required: true},
			},
		}
	case CodeInterpreter:
		return ToolDefinition{
			Name:        string(b),
			Description: "Execute Python code and return its output",
			Parameters: []ToolParameter{
				{Name: "code", Type: "string", Description: "The code to run", Required: true},
			},
		}
	}
	return ToolDefinition{Name: string(b)}
}
