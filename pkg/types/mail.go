package types

// MailImportance ranks how urgent a message is. High and critical messages
// are mirrored into the knowledge store as durable records.
type MailImportance string

const (
	MailImportanceLow      MailImportance = "low"
	MailImportanceNormal   MailImportance = "normal"
	MailImportanceHigh     MailImportance = "high"
	MailImportanceCritical MailImportance = "critical"
)

// IsValid checks if the importance is a known level
func (i MailImportance) IsValid() bool {
	switch i {
	case MailImportanceLow, MailImportanceNormal, MailImportanceHigh, MailImportanceCritical:
		return true
	}
	return false
}

// MailMessage is an append-only message between named agents. Messages are
// never edited or deleted, only marked read.
type MailMessage struct {
	ID         string         `json:"id" db:"id"`
	ThreadID   string         `json:"thread_id" db:"thread_id"`
	From       string         `json:"from" db:"from_agent"`
	To         string         `json:"to" db:"to_agent"`
	Subject    string         `json:"subject" db:"subject"`
	Body       string         `json:"body" db:"body"`
	Importance MailImportance `json:"importance" db:"importance"`
	CreatedAt  int64          `json:"created_at" db:"created_at"`

	// ReadAt is nil until the recipient consumes the message
	ReadAt *int64 `json:"read_at,omitempty" db:"read_at"`
}
