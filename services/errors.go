package services

// GuardError is a recoverable, user-actionable rejection of a state-machine
// transition or gate check. It carries a machine-readable code alongside the
// human explanation; Retryable marks conditions worth an immediate retry
// (e.g. a position acquisition timeout) as opposed to ones needing user
// action first.
type GuardError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *GuardError) Error() string {
	return e.Code + ": " + e.Message
}
