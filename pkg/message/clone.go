package message

// Clone returns a copy of the call that shares no argument storage
func (c ToolCall) Clone() ToolCall {
	out := c
	if c.Arguments != nil {
		out.Arguments = cloneValue(c.Arguments).(map[string]interface{})
	}
	return out
}

// Clone returns a copy of the message that shares no slices or maps
func (m CompletionMessage) Clone() CompletionMessage {
	out := m
	out.ToolCalls = CloneCalls(m.ToolCalls)
	out.Attachments = cloneAttachments(m.Attachments)
	return out
}

// CloneCalls deep copies a tool call list, keeping nil as nil
func CloneCalls(calls []ToolCall) []ToolCall {
	if calls == nil {
		return nil
	}
	out := make([]ToolCall, len(calls))
	for i, c := range calls {
		out[i] = c.Clone()
	}
	return out
}

// Clone deep copies every message in the list
func (l List) Clone() List {
	if l == nil {
		return nil
	}
	out := make(List, len(l))
	for i, m := range l {
		out[i] = cloneMessage(m)
	}
	return out
}

func cloneMessage(m Message) Message {
	switch v := m.(type) {
	case UserMessage:
		v.Attachments = cloneAttachments(v.Attachments)
		return v
	case CompletionMessage:
		return v.Clone()
	default:
		// SystemMessage and ToolResponseMessage hold only strings
		return m
	}
}

func cloneAttachments(in []Attachment) []Attachment {
	if in == nil {
		return nil
	}
	return append([]Attachment(nil), in...)
}

// cloneValue copies the map and slice shapes produced by decoding JSON
func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
