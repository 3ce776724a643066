package types

// Event is the canonical payload emitted by the sale and vesting engines.
// Attributes carry string-encoded fields so indexers can consume them without
// knowing module internals.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
