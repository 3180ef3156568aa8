// Package realtimesvc provides chat.Broker implementations: a NATS-backed
// broker (optionally against an embedded server) and an in-process broker for
// tests and single-node dev.
package realtimesvc

// roomSubject is the fan-out subject for a room.
func roomSubject(roomID string) string {
	return "chat.room." + roomID
}
