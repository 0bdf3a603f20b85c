// Package turn holds the session, turn and step records produced by the engine.
//
// Invariants:
// - Steps are ordered by creation and never change once appended.
// - A turn is immutable once its output message is set.
// - Every step of a turn carries that turn's id.
package turn
