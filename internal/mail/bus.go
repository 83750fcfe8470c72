// Package mail implements the inter-agent message bus and the blind
// wall that filters context before any worker prompt is assembled.
package mail

import (
	"context"
	"fmt"
	"log"

	"github.com/cloud-shuttle/foreman/internal/db"
	"github.com/cloud-shuttle/foreman/internal/knowledge"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

// Bus is the append-only message channel between agents. Messages are
// immutable once sent; delivery marks them read so each lands in a
// consumer's inbox at most once.
type Bus struct {
	store     *db.Store
	knowledge knowledge.Store
	projectID string
}

// NewBus creates a mail bus over the project's store
func NewBus(store *db.Store, ks knowledge.Store, projectID string) *Bus {
	return &Bus{store: store, knowledge: ks, projectID: projectID}
}

// Send appends a message and returns it. High and critical importance
// messages are mirrored into the knowledge store as a durable record;
// a mirror failure is logged, never fatal to delivery.
func (b *Bus) Send(ctx context.Context, from, to, subject, body string, importance types.MailImportance, threadID string) (*types.MailMessage, error) {
	if !importance.IsValid() {
		return nil, fmt.Errorf("unknown importance: %s", importance)
	}

	msg, err := b.store.AppendMail(from, to, subject, body, importance, threadID)
	if err != nil {
		return nil, fmt.Errorf("sending mail: %w", err)
	}
	log.Printf("📬 Mail %s: %s -> %s [%s] %s", msg.ID, from, to, importance, subject)

	if b.knowledge != nil &&
		(importance == types.MailImportanceHigh || importance == types.MailImportanceCritical) {
		content := fmt.Sprintf("mail %s from %s to %s: %s\n%s", msg.ID, from, to, subject, body)
		if _, err := b.knowledge.CreateRecord(ctx, content, knowledge.RecordTypeMail, b.projectID,
			[]string{"mail", string(importance)}); err != nil {
			log.Printf("Error mirroring %s mail to knowledge store: %v", importance, err)
		}
	}
	return msg, nil
}

// Inbox delivers the unread messages addressed to an agent and marks
// them read in the same transaction
func (b *Bus) Inbox(agent string) ([]*types.MailMessage, error) {
	return b.store.ConsumeInbox(agent)
}

// Thread returns the full history of a thread, oldest first, including
// already-read messages
func (b *Bus) Thread(threadID string) ([]*types.MailMessage, error) {
	return b.store.ListThread(threadID)
}

// UnreadCount reports pending mail for an agent without consuming it
func (b *Bus) UnreadCount(agent string) (int, error) {
	return b.store.UnreadCount(agent)
}
