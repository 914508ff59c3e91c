package models

import "time"

// PrivacyMode controls whether and how the sender's name is disclosed to
// receivers of a thread.
type PrivacyMode string

const (
	// PrivacyAnonymous never discloses the sender's name on its own;
	// a receiver can still go through the reveal request flow.
	PrivacyAnonymous PrivacyMode = "anonymous"

	// PrivacyRevealOnRequest is the same as anonymous from the state machine's
	// point of view; the UI surfaces the request button prominently.
	PrivacyRevealOnRequest PrivacyMode = "reveal_on_request"

	// PrivacyAutoReveal discloses the sender's name immediately.
	PrivacyAutoReveal PrivacyMode = "auto_reveal"
)

// ExpiryPolicy determines whether a thread carries an advisory expiry time.
type ExpiryPolicy string

const (
	ExpiryPermanent ExpiryPolicy = "permanent"
	Expiry24h       ExpiryPolicy = "24h"
)

// RevealState is the identity-disclosure state of a thread. Transitions are
// governed by the reveal package and only ever move forward.
type RevealState string

const (
	RevealHidden         RevealState = "hidden"
	RevealRequestPending RevealState = "request_pending"
	RevealApproved       RevealState = "approved"
)

// Thread is a shareable unit of one or more voice messages. A thread is
// created by the first upload and extended by later uploads that reference
// its id.
type Thread struct {
	// ID is the unique identifier for the thread, used in shareable URLs
	ID string `json:"id"`

	// OwnerID identifies the sender session that created the thread
	OwnerID string `json:"senderId"`

	// OwnerDisplayName is the sender's chosen name. It is withheld from
	// receiver-facing responses until the reveal state is approved.
	OwnerDisplayName string `json:"senderName,omitempty"`

	// Privacy is fixed at creation
	Privacy PrivacyMode `json:"privacy"`

	// Expiry is fixed at creation; ExpireAt is set iff Expiry is "24h"
	Expiry   ExpiryPolicy `json:"expiry"`
	ExpireAt *time.Time   `json:"expireAt,omitempty"`

	// RevealState only ever moves forward: hidden -> request_pending -> approved
	RevealState RevealState `json:"revealState"`

	// OpenCount tracks how many times the share link was opened
	OpenCount int `json:"openCount"`

	// CreatedAt is when the thread was first created
	CreatedAt time.Time `json:"createdAt"`

	// Messages is append-only; slice order is playback order
	Messages []Message `json:"messages"`
}

// Message is a single recorded voice clip belonging to a thread.
type Message struct {
	// ID is unique across all threads, drawn from the same id space as
	// thread ids
	ID string `json:"messageId"`

	// AudioRef is the object key of the stored audio blob
	AudioRef string `json:"audioRef"`

	// CreatedAt is when the clip was uploaded
	CreatedAt time.Time `json:"createdAt"`

	// PlayCount tracks playback starts; only ever incremented
	PlayCount int `json:"playCount"`
}

// Redacted returns a copy of the thread safe to hand to receivers: the
// sender's display name is withheld until reveal is approved.
func (t *Thread) Redacted() *Thread {
	out := *t
	out.Messages = append([]Message(nil), t.Messages...)
	if t.RevealState != RevealApproved {
		out.OwnerDisplayName = ""
	}
	return &out
}

// UploadResponse is returned by POST /api/upload.
type UploadResponse struct {
	OK       bool   `json:"ok"`
	Link     string `json:"link,omitempty"`
	ThreadID string `json:"threadId,omitempty"`

	// SenderID is echoed back when the server generated one because the
	// client did not supply it
	SenderID string `json:"senderId,omitempty"`
}

// StatusResponse is the generic {ok} body used by the tracking and reveal
// endpoints.
type StatusResponse struct {
	OK bool `json:"ok"`
}
