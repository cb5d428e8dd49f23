package domain

// Snapshot is a serializable export of one session's workspace, used by the
// export/import flows. Importing a snapshot goes through the same
// reconciliation path as server updates, so re-importing the same snapshot
// does not duplicate sequences.
type Snapshot struct {
	SessionID string     `json:"sessionId,omitempty"`
	Messages  []Message  `json:"messages,omitempty"`
	Sequences []Sequence `json:"sequences"`
}
