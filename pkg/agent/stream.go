package agent

import (
	"context"
	"sync"
)

// DefaultEventBuffer is the capacity of a turn's event channel
const DefaultEventBuffer = 64

// TurnStream delivers the events of one running turn. The producer blocks
// when the buffer is full, so a slow consumer slows the turn down.
type TurnStream struct {
	turnID string
	events chan Event
	done   chan struct{}
	cancel context.CancelFunc
	err    error
	once   sync.Once
}

func newTurnStream(turnID string, buffer int, cancel context.CancelFunc) *TurnStream {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &TurnStream{
		turnID: turnID,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// TurnID returns the id of the turn being produced
func (s *TurnStream) TurnID() string {
	return s.turnID
}

// Events returns the event channel. It is closed after the last event.
func (s *TurnStream) Events() <-chan Event {
	return s.events
}

// Err returns the error that ended the turn early, if any. It blocks until
// the producer has finished.
func (s *TurnStream) Err() error {
	<-s.done
	return s.err
}

// Close abandons the turn. The producer stops at its next suspension point
// and nothing is recorded, unless the turn was already appended, in which
// case Err reports nil.
func (s *TurnStream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// Collect drains the stream and returns every event
func (s *TurnStream) Collect() ([]Event, error) {
	var out []Event
	for e := range s.events {
		out = append(out, e)
	}
	return out, s.Err()
}

// finish records err and closes the channel. Only the producer calls it.
func (s *TurnStream) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.events)
		s.cancel()
		close(s.done)
	})
}

// emitter is the producer side of a TurnStream
type emitter struct {
	ctx context.Context
	ch  chan<- Event
}

// emit delivers e unless the turn has been abandoned
func (e *emitter) emit(ev Event) error {
	if err := e.ctx.Err(); err != nil {
		return err
	}
	select {
	case e.ch <- ev:
		return nil
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}
