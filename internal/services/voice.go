package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/sandy-echo/echo-backend/internal/blob"
	"github.com/sandy-echo/echo-backend/internal/ident"
	"github.com/sandy-echo/echo-backend/internal/models"
	"github.com/sandy-echo/echo-backend/internal/notify"
	"github.com/sandy-echo/echo-backend/internal/reveal"
	"github.com/sandy-echo/echo-backend/internal/store"
)

// ErrUploadFailed is returned when the audio payload could not be stored
// (blob write failure or timeout).
var ErrUploadFailed = errors.New("upload failed")

// VoiceService handles all voice-thread business logic.
// It acts as an intermediary between HTTP handlers and the thread store,
// blob store and realtime publisher. No thread state is cached across
// requests; every operation reads fresh from the store.
type VoiceService struct {
	threads store.ThreadStore
	blobs   blob.Store
	events  notify.Publisher
	machine *reveal.Machine

	baseURL       string
	uploadTimeout time.Duration
}

// NewVoiceService creates a new VoiceService instance.
func NewVoiceService(threads store.ThreadStore, blobs blob.Store, events notify.Publisher, baseURL string, uploadTimeout time.Duration) *VoiceService {
	return &VoiceService{
		threads:       threads,
		blobs:         blobs,
		events:        events,
		machine:       reveal.NewMachine(reveal.OwnerGuard),
		baseURL:       baseURL,
		uploadTimeout: uploadTimeout,
	}
}

// UploadParams carries a parsed upload request.
type UploadParams struct {
	// ThreadID extends an existing thread when set; empty creates a new one
	ThreadID string

	SenderID   string
	SenderName string
	Privacy    models.PrivacyMode
	Expiry     models.ExpiryPolicy

	// Audio is the voice payload being uploaded
	Audio io.Reader
}

// UploadResult reports the outcome of a successful upload.
type UploadResult struct {
	ThreadID  string
	MessageID string
	Link      string

	// SenderID is the effective owner id; generated when the caller did not
	// supply one
	SenderID string

	// SenderGenerated reports whether SenderID was generated server-side
	SenderGenerated bool
}

// Upload stores the audio blob and either creates a new thread around it or
// appends it to an existing one. Appends publish a message_appended event to
// the thread topic so connected viewers update instantly.
func (s *VoiceService) Upload(ctx context.Context, p UploadParams) (*UploadResult, error) {
	senderID := p.SenderID
	generated := false
	if senderID == "" {
		senderID = ident.New()
		generated = true
	}

	// Store the blob first; a thread must never reference audio that does
	// not exist. The write is bounded so a stalled client cannot hang the
	// connection indefinitely.
	audioRef := ident.New() + ".webm"
	blobCtx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()
	if err := s.blobs.Save(blobCtx, audioRef, p.Audio); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	now := time.Now().UTC()
	msg := models.Message{
		ID:        ident.New(),
		AudioRef:  audioRef,
		CreatedAt: now,
	}

	if p.ThreadID != "" {
		err := s.threads.AppendMessage(ctx, p.ThreadID, msg, store.AppendOptions{
			SenderID:    senderID,
			DisplayName: p.SenderName,
		})
		if err != nil {
			// The blob is orphaned; remove it rather than leak storage
			if derr := s.blobs.Delete(ctx, audioRef); derr != nil {
				log.Printf("[Voice] Failed to remove orphaned blob %s: %v", audioRef, derr)
			}
			return nil, err
		}

		s.events.Publish(notify.ThreadTopic(p.ThreadID), notify.MessageAppended(p.ThreadID, msg))

		return &UploadResult{
			ThreadID:        p.ThreadID,
			MessageID:       msg.ID,
			Link:            s.shareLink(p.ThreadID),
			SenderID:        senderID,
			SenderGenerated: generated,
		}, nil
	}

	threadID := ident.New()
	thread := &models.Thread{
		ID:               threadID,
		OwnerID:          senderID,
		OwnerDisplayName: p.SenderName,
		Privacy:          p.Privacy,
		Expiry:           p.Expiry,
		RevealState:      reveal.Initial(p.Privacy),
		CreatedAt:        now,
		Messages:         []models.Message{msg},
	}
	if p.Expiry == models.Expiry24h {
		expireAt := now.Add(24 * time.Hour)
		thread.ExpireAt = &expireAt
	}

	if err := s.threads.CreateThread(ctx, thread); err != nil {
		if derr := s.blobs.Delete(ctx, audioRef); derr != nil {
			log.Printf("[Voice] Failed to remove orphaned blob %s: %v", audioRef, derr)
		}
		return nil, err
	}

	return &UploadResult{
		ThreadID:        threadID,
		MessageID:       msg.ID,
		Link:            s.shareLink(threadID),
		SenderID:        senderID,
		SenderGenerated: generated,
	}, nil
}

// GetThread returns the receiver-facing view of a thread: the owner's
// display name is withheld until reveal is approved.
func (s *VoiceService) GetThread(ctx context.Context, threadID string) (*models.Thread, error) {
	t, err := s.threads.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return t.Redacted(), nil
}

// Play opens the stored audio blob referenced by fileKey.
func (s *VoiceService) Play(ctx context.Context, fileKey string) (io.ReadCloser, error) {
	return s.blobs.Open(ctx, fileKey)
}

// RequestReveal moves a hidden thread to request_pending and notifies the
// owner's active sessions. Repeat requests re-confirm the state without
// publishing again.
func (s *VoiceService) RequestReveal(ctx context.Context, threadID string) error {
	t, err := s.threads.GetThread(ctx, threadID)
	if err != nil {
		return err
	}

	next, changed := s.machine.Request(t)
	if !changed {
		return nil
	}

	// The store re-validates against the freshly-read state at write time,
	// so a concurrent approve cannot be regressed by this request.
	applied, err := s.threads.SetRevealState(ctx, threadID, next)
	if err != nil {
		return err
	}
	if applied {
		s.events.Publish(notify.OwnerTopic(t.OwnerID), notify.RevealRequested(threadID, t.OwnerID))
	}
	return nil
}

// ApproveReveal finalizes identity disclosure and delivers the owner's
// display name to everyone currently viewing the thread. Approving an
// already-approved thread is an idempotent no-op.
func (s *VoiceService) ApproveReveal(ctx context.Context, threadID, actorID string) error {
	t, err := s.threads.GetThread(ctx, threadID)
	if err != nil {
		return err
	}

	next, changed, err := s.machine.Approve(t, actorID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	applied, err := s.threads.SetRevealState(ctx, threadID, next)
	if err != nil {
		return err
	}
	if applied {
		// Re-read before publishing: a concurrent append may have refreshed
		// the owner name since the pre-transition read, and the event must
		// carry the name the stored document discloses.
		name := t.OwnerDisplayName
		if fresh, err := s.threads.GetThread(ctx, threadID); err == nil {
			name = fresh.OwnerDisplayName
		}
		s.events.Publish(notify.ThreadTopic(threadID), notify.RevealApproved(threadID, name))
	}
	return nil
}

// TrackOpen bumps the thread's open counter. Failures never surface to the
// caller; the counter is best-effort.
func (s *VoiceService) TrackOpen(ctx context.Context, threadID string) {
	if err := s.threads.IncrementOpenCount(ctx, threadID); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("[Voice] Failed to track open for %s: %v", threadID, err)
	}
}

// TrackPlay bumps a message's play counter, fire-and-forget.
func (s *VoiceService) TrackPlay(ctx context.Context, threadID, messageID string) {
	if err := s.threads.IncrementPlayCount(ctx, threadID, messageID); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("[Voice] Failed to track play for %s/%s: %v", threadID, messageID, err)
	}
}

// Dashboard lists the owner's threads, newest first. The owner sees their
// own display name regardless of reveal state.
func (s *VoiceService) Dashboard(ctx context.Context, ownerID string) ([]models.Thread, error) {
	list, err := s.threads.ListThreadsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Thread{}
	}
	return list, nil
}

func (s *VoiceService) shareLink(threadID string) string {
	return s.baseURL + "/v/" + threadID
}
