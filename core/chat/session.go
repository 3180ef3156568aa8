package chat

// session is the ephemeral state of the one active room: its ordered message
// list, the pending attachment and the send gate. A fresh session is created
// on every room switch; async completions hold the session pointer and the
// Client discards any completion whose session is no longer current.
//
// All methods must be called with the owning Client's lock held.
type session struct {
	room    Room
	msgs    []Message
	pending *File
	sending bool
	sub     Subscription
}

func newSession(room Room) *session {
	return &session{room: room}
}

// hasID reports whether an authoritative message id is already present.
func (s *session) hasID(id string) bool {
	if id == "" {
		return false
	}
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return true
		}
	}
	return false
}

// setHistory replaces the list with a freshly loaded page, keeping any
// messages that raced in through the subscription while the fetch ran.
func (s *session) setHistory(msgs []Message) {
	raced := s.msgs
	s.msgs = msgs
	for _, m := range raced {
		if !s.hasID(m.ID) {
			s.insertSorted(m)
		}
	}
}

// prependOlder splices an older page in front of the current list.
func (s *session) prependOlder(older []Message) {
	kept := make([]Message, 0, len(older)+len(s.msgs))
	for _, m := range older {
		if !s.hasID(m.ID) {
			kept = append(kept, m)
		}
	}
	s.msgs = append(kept, s.msgs...)
}

// oldest returns the first message, if any.
func (s *session) oldest() (Message, bool) {
	if len(s.msgs) == 0 {
		return Message{}, false
	}
	return s.msgs[0], true
}

// appendLocal adds an optimistic record at the tail. Locally-originated
// messages carry now() timestamps so the tail is their sorted position.
func (s *session) appendLocal(msg Message) {
	s.msgs = append(s.msgs, msg)
}

// insertSorted places an arrival at its position by CreatedAt, after any
// messages with an equal timestamp. Returns the insertion index.
func (s *session) insertSorted(msg Message) int {
	i := len(s.msgs)
	for i > 0 && s.msgs[i-1].CreatedAt.After(msg.CreatedAt) {
		i--
	}
	s.msgs = append(s.msgs, Message{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = msg
	return i
}

// reconcile replaces the optimistic record identified by localID with the
// authoritative one, in place. Returns the index, or -1 if the record is gone.
func (s *session) reconcile(localID string, authoritative Message) int {
	for i := range s.msgs {
		if s.msgs[i].LocalID == localID && s.msgs[i].ID == "" {
			authoritative.LocalID = localID
			s.msgs[i] = authoritative
			return i
		}
	}
	return -1
}

// markFailed flips the optimistic record identified by localID to
// MessageFailed so it can be resent. Returns the index, or -1.
func (s *session) markFailed(localID string) int {
	for i := range s.msgs {
		if s.msgs[i].LocalID == localID && s.msgs[i].ID == "" {
			s.msgs[i].State = MessageFailed
			return i
		}
	}
	return -1
}

// retry flips a failed record back to MessageSending, keeping its position,
// and returns a copy for persisting.
func (s *session) retry(localID string) (Message, bool) {
	for i := range s.msgs {
		if s.msgs[i].LocalID == localID && s.msgs[i].State == MessageFailed {
			s.msgs[i].State = MessageSending
			return s.msgs[i], true
		}
	}
	return Message{}, false
}

// teardown detaches the subscription; safe to call more than once.
func (s *session) teardown() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
		s.sub = nil
	}
	s.pending = nil
}
