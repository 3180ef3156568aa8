package chat

import "time"

// DateGroup is the messages of one calendar day, in list order.
type DateGroup struct {
	Date     time.Time `json:"date"` // midnight, in the grouping zone
	Messages []Message `json:"messages"`
}

// GroupByDate partitions msgs by the calendar date of CreatedAt in loc
// (UTC when nil). Groups appear in order of first appearance and every
// message lands in exactly one group, in its original order.
func GroupByDate(msgs []Message, loc *time.Location) []DateGroup {
	if loc == nil {
		loc = time.UTC
	}
	var groups []DateGroup
	idx := make(map[time.Time]int, len(msgs))
	for _, m := range msgs {
		y, mo, d := m.CreatedAt.In(loc).Date()
		day := time.Date(y, mo, d, 0, 0, 0, 0, loc)
		i, ok := idx[day]
		if !ok {
			i = len(groups)
			groups = append(groups, DateGroup{Date: day})
			idx[day] = i
		}
		groups[i].Messages = append(groups[i].Messages, m)
	}
	return groups
}

// SenderRun is a maximal run of consecutive messages from one sender; only
// the run carries the sender identity.
type SenderRun struct {
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Messages   []Message `json:"messages"`
}

// SenderRuns merges consecutive same-sender messages into runs, preserving
// order.
func SenderRuns(msgs []Message) []SenderRun {
	var runs []SenderRun
	for _, m := range msgs {
		if n := len(runs); n > 0 && runs[n-1].SenderID == m.SenderID {
			runs[n-1].Messages = append(runs[n-1].Messages, m)
			continue
		}
		runs = append(runs, SenderRun{
			SenderID:   m.SenderID,
			SenderName: m.SenderName,
			Messages:   []Message{m},
		})
	}
	return runs
}
