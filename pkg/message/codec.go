package message

import (
	"encoding/json"
	"fmt"
)

// List is an ordered set of messages that decodes its tagged variants
type List []Message

func (m UserMessage) MarshalJSON() ([]byte, error) {
	type plain UserMessage
	return json.Marshal(struct {
		Role Role `json:"role"`
		plain
	}{RoleUser, plain(m)})
}

func (m SystemMessage) MarshalJSON() ([]byte, error) {
	type plain SystemMessage
	return json.Marshal(struct {
		Role Role `json:"role"`
		plain
	}{RoleSystem, plain(m)})
}

func (m CompletionMessage) MarshalJSON() ([]byte, error) {
	type plain CompletionMessage
	return json.Marshal(struct {
		Role Role `json:"role"`
		plain
	}{RoleAssistant, plain(m)})
}

func (m ToolResponseMessage) MarshalJSON() ([]byte, error) {
	type plain ToolResponseMessage
	return json.Marshal(struct {
		Role Role `json:"role"`
		plain
	}{RoleIPython, plain(m)})
}

// Unmarshal decodes a single message using its role discriminator
func Unmarshal(data []byte) (Message, error) {
	var head struct {
		Role Role `json:"role"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to decode message role: %w", err)
	}

	switch head.Role {
	case RoleUser:
		var m UserMessage
		err := json.Unmarshal(data, &m)
		return m, err
	case RoleSystem:
		var m SystemMessage
		err := json.Unmarshal(data, &m)
		return m, err
	case RoleAssistant:
		var m CompletionMessage
		err := json.Unmarshal(data, &m)
		return m, err
	case RoleIPython:
		var m ToolResponseMessage
		err := json.Unmarshal(data, &m)
		return m, err
	case "":
		return nil, fmt.Errorf("message role is required")
	default:
		return nil, fmt.Errorf("unknown message role: %s", head.Role)
	}
}

// UnmarshalList decodes a JSON array of messages
func UnmarshalList(data []byte) (List, error) {
	var l List
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return l, nil
}

// UnmarshalJSON implements json.Unmarshaler
func (l *List) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode message list: %w", err)
	}

	out := make(List, 0, len(raw))
	for i, r := range raw {
		m, err := Unmarshal(r)
		if err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, m)
	}
	*l = out
	return nil
}
