// Package notify decouples state changes from realtime delivery. Components
// publish domain events to named topics; the websocket hub implements the
// Publisher side and fans events out to currently-connected subscribers.
//
// Delivery is best-effort and at-most-once: there is no persistence or
// replay, so a client that connects after an event was published recovers by
// re-fetching thread state.
package notify

import (
	"github.com/sandy-echo/echo-backend/internal/models"
)

// Event names, as seen by realtime clients.
const (
	EventMessageAppended = "message_appended"
	EventRevealRequested = "reveal_request"
	EventRevealApproved  = "reveal_approved"
)

// Event is one domain event published to a single topic. The payload carries
// enough data for a subscriber to act without an extra fetch.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// MessageAppendedPayload notifies thread viewers about a new voice message.
type MessageAppendedPayload struct {
	ThreadID string         `json:"id"`
	Message  models.Message `json:"message"`
}

// RevealRequestedPayload notifies the owner's sessions that a receiver asked
// for their identity.
type RevealRequestedPayload struct {
	ThreadID string `json:"id"`
	OwnerID  string `json:"senderId"`
}

// RevealApprovedPayload delivers the now-disclosed name to thread viewers.
type RevealApprovedPayload struct {
	ThreadID   string `json:"id"`
	SenderName string `json:"senderName"`
}

// Publisher delivers an event to every session currently subscribed to the
// topic. Publishing must never block or fail the triggering request; an
// empty topic is a silent no-op.
type Publisher interface {
	Publish(topic string, event Event)
}

// OwnerTopic is the private channel of a sender's active sessions.
func OwnerTopic(ownerID string) string {
	return "owner:" + ownerID
}

// ThreadTopic is the channel of sessions currently viewing a thread.
func ThreadTopic(threadID string) string {
	return "thread:" + threadID
}

// MessageAppended builds the event published to a thread topic after an
// upload extends the thread.
func MessageAppended(threadID string, msg models.Message) Event {
	return Event{Type: EventMessageAppended, Payload: MessageAppendedPayload{
		ThreadID: threadID,
		Message:  msg,
	}}
}

// RevealRequested builds the event published to the owner topic when a
// receiver requests identity disclosure.
func RevealRequested(threadID, ownerID string) Event {
	return Event{Type: EventRevealRequested, Payload: RevealRequestedPayload{
		ThreadID: threadID,
		OwnerID:  ownerID,
	}}
}

// RevealApproved builds the event published to the thread topic when the
// owner approves disclosure. An empty display name falls back to "Anonymous",
// matching what receivers would otherwise render.
func RevealApproved(threadID, senderName string) Event {
	if senderName == "" {
		senderName = "Anonymous"
	}
	return Event{Type: EventRevealApproved, Payload: RevealApprovedPayload{
		ThreadID:   threadID,
		SenderName: senderName,
	}}
}
