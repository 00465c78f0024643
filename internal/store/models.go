package store

// MessageState is the delivery lifecycle state of a Message row.
type MessageState string

const (
	StateFetched     MessageState = "FETCHED"
	StateInserting   MessageState = "INSERTING"
	StateInserted    MessageState = "INSERTED"
	StateFailedRetry MessageState = "FAILED_RETRY"
	StateFailedPerm  MessageState = "FAILED_PERM"
)

// Account is one forwarding pair: a source mailbox owner and a destination user.
type Account struct {
	ID              int64
	SourceEmail     string
	DestinationUser string
}

// Mailbox is the per-(account, mailbox) progress cursor.
type Mailbox struct {
	AccountID    int64
	Name         string
	UIDValidity  uint32
	LastSeenUID  uint32
	CreatedAt    string
	UpdatedAt    string
}

// Message is a single source message tracked through delivery and deletion.
type Message struct {
	ID          int64
	AccountID   int64
	MailboxName string
	UIDValidity uint32
	UID         uint32

	MessageID     *string
	RFC822SHA256  string
	IMAPInternalDate *string
	IMAPFlagsJSON string

	State         MessageState
	AttemptCount  int
	NextAttemptAt *string
	LastError     *string
	GmailMessageID *string
	GmailThreadID  *string

	YahooDeletedAt           *string
	YahooDeleteAttemptCount  int
	YahooDeleteNextAttemptAt *string
	YahooDeleteLastError     *string

	CreatedAt string
	UpdatedAt string
}

// Secret is an opaque, AEAD-encrypted key/value row.
type Secret struct {
	Key        string
	Ciphertext []byte
	CreatedAt  string
}

// Alert is an append-only operator notification record.
type Alert struct {
	Kind      string
	Title     string
	Message   string
	Success   bool
	CreatedAt string
}
