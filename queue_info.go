package rq

// QueueInfo describes the state of a queue.
type QueueInfo struct {
	// Ready is the length of the ready list.
	Ready int64
	// InFlight is the length of the in-flight list.
	InFlight int64
	// Pending is the number of entries in the pending hash. It counts ready and in-flight messages.
	Pending int64
	// Malformed is the length of the list holding undecodable entries.
	Malformed int64
}
