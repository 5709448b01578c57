package session

// Event is emitted for every Set and Ensure, after the entry is committed.
type Event struct {
	Entry    Entry     // committed entry (safe to retain)
	Previous Reference // reference replaced by this Set
}
