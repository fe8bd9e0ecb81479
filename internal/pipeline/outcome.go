package pipeline

type Status string

const (
	StatusSucceeded          Status = "succeeded"
	StatusNotConnected       Status = "not_connected"
	StatusCouldNotUnderstand Status = "could_not_understand"
	StatusOverloaded         Status = "overloaded"
	StatusMissingCredentials Status = "missing_credentials"
	StatusFailed             Status = "failed"
)

// Outcome is the result of one Query call. A succeeded outcome carries
// Sources; every other status carries Error instead.
type Outcome struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources,omitempty"`
	Error   string   `json:"error,omitempty"`
	Status  Status   `json:"status"`
}

func (o Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

type Health struct {
	Connected bool     `json:"connected"`
	Tables    []string `json:"tables"`
}
