package publisher

// Assignment describes the single partition a Machine owns: the state and
// events topics it writes to, and which state-topic partition is pinned
// for this publisher's writes.
type Assignment struct {
	StateTopic  string
	EventsTopic string
	Partition   int32
}
