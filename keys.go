package rq

import "fmt"

// Keys describes the store key names of one queue.
type Keys struct {
	// Ready is the list producers push onto and consumers pop from.
	Ready string
	// InFlight is the list holding messages claimed by a consumer but not yet acknowledged.
	InFlight string
	// Pending is the hash from message id to the latest serialized form of the message.
	Pending string
	// Malformed is the list undecodable entries are moved to when they are claimed or scanned.
	Malformed string
}

// KeysFor returns the keys of the queue called name owned by service. The layout is shared with every other
// producer and consumer of the same store and must not change.
func KeysFor(service, name string) Keys {
	return Keys{
		Ready:     fmt.Sprintf("%s:%s", service, name),
		InFlight:  fmt.Sprintf("%s:%s:ack", service, name),
		Pending:   fmt.Sprintf("%s:%s:pending", service, name),
		Malformed: fmt.Sprintf("%s:%s:malformed", service, name),
	}
}
