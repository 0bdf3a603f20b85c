// Package message defines the closed set of conversation messages exchanged
// between the user, the model and tools.
//
// Invariants:
// - Message is sealed: only UserMessage, SystemMessage, CompletionMessage and
//   ToolResponseMessage implement it.
// - Values are treated as immutable; helpers return copies.
// - JSON encoding carries a "role" discriminator so lists round-trip.
//
// Usage:
//
//	msgs := message.List{
//		message.UserMessage{Content: "hello"},
//	}
//	data, _ := json.Marshal(msgs)
//	decoded, _ := message.UnmarshalList(data)
//	_ = decoded
package message
