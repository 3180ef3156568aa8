package realtimesvc

import (
	"sync"

	"github.com/darasahq/darasa/core/chat"
)

// InProcBroker fans broadcasts out to subscribers within this process.
type InProcBroker struct {
	mu   sync.RWMutex
	subs map[string][]*inprocSub
}

var _ chat.Broker = (*InProcBroker)(nil)

func NewInProcBroker() *InProcBroker {
	return &InProcBroker{subs: make(map[string][]*inprocSub)}
}

func (b *InProcBroker) Publish(roomID string, bc chat.Broadcast) error {
	subject := roomSubject(roomID)

	b.mu.RLock()
	fns := make([]func(chat.Broadcast), 0, len(b.subs[subject]))
	for _, sub := range b.subs[subject] {
		if sub.active {
			fns = append(fns, sub.fn)
		}
	}
	b.mu.RUnlock()

	// delivery runs outside the lock: subscribers call Unsubscribe from
	// under their own locks, so a delivery can trail an Unsubscribe and
	// consumers must tolerate it.
	for _, fn := range fns {
		fn(bc)
	}
	return nil
}

func (b *InProcBroker) Subscribe(roomID string, fn func(chat.Broadcast)) (chat.Subscription, error) {
	subject := roomSubject(roomID)
	sub := &inprocSub{broker: b, subject: subject, fn: fn, active: true}

	b.mu.Lock()
	b.subs[subject] = append(b.subs[subject], sub)
	b.mu.Unlock()
	return sub, nil
}

type inprocSub struct {
	broker  *InProcBroker
	subject string
	fn      func(chat.Broadcast)
	active  bool
}

func (s *inprocSub) Unsubscribe() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if !s.active {
		return nil
	}
	s.active = false

	subs := s.broker.subs[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.broker.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}
