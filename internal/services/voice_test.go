package services

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandy-echo/echo-backend/internal/blob"
	"github.com/sandy-echo/echo-backend/internal/models"
	"github.com/sandy-echo/echo-backend/internal/notify"
	"github.com/sandy-echo/echo-backend/internal/reveal"
	"github.com/sandy-echo/echo-backend/internal/store"
)

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []notify.Event
}

func (p *recordingPublisher) Publish(topic string, event notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (p *recordingPublisher) last() (string, notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return "", notify.Event{}
	}
	return p.topics[len(p.topics)-1], p.events[len(p.events)-1]
}

func setupVoiceService(t *testing.T) (*VoiceService, *store.MemoryStore, blob.Store, *recordingPublisher) {
	t.Helper()
	threads := store.NewMemoryStore()
	blobs, err := blob.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	pub := &recordingPublisher{}
	svc := NewVoiceService(threads, blobs, pub, "http://localhost:8080", 5*time.Second)
	return svc, threads, blobs, pub
}

func audio() io.Reader {
	return strings.NewReader("webm-audio-bytes")
}

func TestUploadCreatesThread(t *testing.T) {
	svc, threads, blobs, pub := setupVoiceService(t)
	ctx := context.Background()

	res, err := svc.Upload(ctx, UploadParams{
		SenderID:   "s1",
		SenderName: "Sandy",
		Privacy:    models.PrivacyAnonymous,
		Expiry:     models.ExpiryPermanent,
		Audio:      audio(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ThreadID)
	assert.Equal(t, "http://localhost:8080/v/"+res.ThreadID, res.Link)
	assert.Equal(t, "s1", res.SenderID)
	assert.False(t, res.SenderGenerated)

	// No event on thread creation: nobody can be subscribed to a topic for
	// an id that did not exist yet
	assert.Zero(t, pub.count())

	th, err := threads.GetThread(ctx, res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, models.RevealHidden, th.RevealState)
	assert.Nil(t, th.ExpireAt)
	require.Len(t, th.Messages, 1)
	assert.Equal(t, res.MessageID, th.Messages[0].ID)

	// The blob is retrievable under the stored ref
	rc, err := blobs.Open(ctx, th.Messages[0].AudioRef)
	require.NoError(t, err)
	rc.Close()
}

func TestUploadAutoRevealStartsApproved(t *testing.T) {
	svc, threads, _, _ := setupVoiceService(t)
	ctx := context.Background()

	res, err := svc.Upload(ctx, UploadParams{
		SenderID: "s1", SenderName: "Sandy",
		Privacy: models.PrivacyAutoReveal, Expiry: models.ExpiryPermanent,
		Audio: audio(),
	})
	require.NoError(t, err)

	th, err := threads.GetThread(ctx, res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, models.RevealApproved, th.RevealState)

	// Receiver view shows the name with no reveal request needed
	view, err := svc.GetThread(ctx, res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "Sandy", view.OwnerDisplayName)
}

func TestUpload24hExpirySetsExpireAt(t *testing.T) {
	svc, threads, _, _ := setupVoiceService(t)
	ctx := context.Background()

	res, err := svc.Upload(ctx, UploadParams{
		SenderID: "s1", Privacy: models.PrivacyAnonymous,
		Expiry: models.Expiry24h, Audio: audio(),
	})
	require.NoError(t, err)

	th, err := threads.GetThread(ctx, res.ThreadID)
	require.NoError(t, err)
	require.NotNil(t, th.ExpireAt)
	assert.WithinDuration(t, th.CreatedAt.Add(24*time.Hour), *th.ExpireAt, time.Second)
}

func TestUploadGeneratesSenderID(t *testing.T) {
	svc, _, _, _ := setupVoiceService(t)

	res, err := svc.Upload(context.Background(), UploadParams{
		Privacy: models.PrivacyAnonymous, Expiry: models.ExpiryPermanent,
		Audio: audio(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.SenderID)
	assert.True(t, res.SenderGenerated)
}

func TestUploadAppendsToExistingThread(t *testing.T) {
	svc, threads, _, pub := setupVoiceService(t)
	ctx := context.Background()

	first, err := svc.Upload(ctx, UploadParams{
		SenderID: "s1", Privacy: models.PrivacyAnonymous,
		Expiry: models.ExpiryPermanent, Audio: audio(),
	})
	require.NoError(t, err)

	second, err := svc.Upload(ctx, UploadParams{
		ThreadID: first.ThreadID, SenderID: "s1", SenderName: "Sandy",
		Privacy: models.PrivacyAnonymous, Expiry: models.ExpiryPermanent,
		Audio: audio(),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ThreadID, second.ThreadID)

	th, err := threads.GetThread(ctx, first.ThreadID)
	require.NoError(t, err)
	require.Len(t, th.Messages, 2)
	assert.Equal(t, second.MessageID, th.Messages[1].ID)
	assert.Equal(t, "Sandy", th.OwnerDisplayName, "later upload refreshes the owner name")

	require.Equal(t, 1, pub.count())
	topic, evt := pub.last()
	assert.Equal(t, notify.ThreadTopic(first.ThreadID), topic)
	assert.Equal(t, notify.EventMessageAppended, evt.Type)
}

func TestUploadToMissingThread(t *testing.T) {
	svc, _, _, pub := setupVoiceService(t)

	_, err := svc.Upload(context.Background(), UploadParams{
		ThreadID: "missing", SenderID: "s1",
		Privacy: models.PrivacyAnonymous, Expiry: models.ExpiryPermanent,
		Audio: audio(),
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, pub.count())
}

func TestGetThreadWithholdsNameUntilApproved(t *testing.T) {
	svc, _, _, _ := setupVoiceService(t)
	ctx := context.Background()

	res, err := svc.Upload(ctx, UploadParams{
		SenderID: "s1", SenderName: "Sandy",
		Privacy: models.PrivacyAnonymous, Expiry: models.ExpiryPermanent,
		Audio: audio(),
	})
	require.NoError(t, err)

	view, err := svc.GetThread(ctx, res.ThreadID)
	require.NoError(t, err)
	assert.Empty(t, view.OwnerDisplayName)

	require.NoError(t, svc.ApproveReveal(ctx, res.ThreadID, "s1"))

	view, err = svc.GetThread(ctx, res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "Sandy", view.OwnerDisplayName)
}

func TestRequestRevealNotifiesOwnerOnce(t *testing.T) {
	svc, threads, _, pub := setupVoiceService(t)
	ctx := context.Background()

	res, err := svc.Upload(ctx, UploadParams{
		SenderID: "s1", Privacy: models.PrivacyAnonymous,
		Expiry: models.ExpiryPermanent, Audio: audio(),
	})
	require.NoError(t, err)

	require.NoError(t, svc.RequestReveal(ctx, res.ThreadID))

	th, _ := threads.GetThread(ctx, res.ThreadID)
	assert.Equal(t, models.RevealRequestPending, th.RevealState)

	require.Equal(t, 1, pub.count())
	topic, evt := pub.last()
	assert.Equal(t, notify.OwnerTopic("s1"), topic)
	assert.Equal(t, notify.EventRevealRequested, evt.Type)

	// Requesting again re-confirms request_pending without another event
	require.NoError(t, svc.RequestReveal(ctx, res.ThreadID))
	th, _ = threads.GetThread(ctx, res.ThreadID)
	assert.Equal(t, models.RevealRequestPending, th.RevealState)
	assert.Equal(t, 1, pub.count())

	assert.ErrorIs(t, svc.RequestReveal(ctx, "missing"), store.ErrNotFound)
}

func TestApproveRevealNotifiesThreadViewers(t *testing.T) {
	svc, threads, _, pub := setupVoiceService(t)
	ctx := context.Background()

	res, err := svc.Upload(ctx, UploadParams{
		SenderID: "s1", SenderName: "Sandy",
		Privacy: models.PrivacyAnonymous, Expiry: models.ExpiryPermanent,
		Audio: audio(),
	})
	require.NoError(t, err)
	require.NoError(t, svc.RequestReveal(ctx, res.ThreadID))

	require.NoError(t, svc.ApproveReveal(ctx, res.ThreadID, "s1"))

	th, _ := threads.GetThread(ctx, res.ThreadID)
	assert.Equal(t, models.RevealApproved, th.RevealState)

	topic, evt := pub.last()
	assert.Equal(t, notify.ThreadTopic(res.ThreadID), topic)
	assert.Equal(t, notify.EventRevealApproved, evt.Type)
	payload := evt.Payload.(notify.RevealApprovedPayload)
	assert.Equal(t, "Sandy", payload.SenderName)

	// Approving again is an idempotent no-op with no second event
	before := pub.count()
	require.NoError(t, svc.ApproveReveal(ctx, res.ThreadID, "s1"))
	assert.Equal(t, before, pub.count())
}

// renamingStore patches the owner name right before a reveal-state write
// lands, standing in for an append racing the approval.
type renamingStore struct {
	*store.MemoryStore
	ownerID string
	name    string
}

func (s *renamingStore) SetRevealState(ctx context.Context, threadID string, next models.RevealState) (bool, error) {
	msg := models.Message{ID: "racing", AudioRef: "racing.webm", CreatedAt: time.Now().UTC()}
	if err := s.MemoryStore.AppendMessage(ctx, threadID, msg, store.AppendOptions{
		SenderID: s.ownerID, DisplayName: s.name,
	}); err != nil {
		return false, err
	}
	return s.MemoryStore.SetRevealState(ctx, threadID, next)
}

func TestApproveRevealPublishesFreshName(t *testing.T) {
	threads := &renamingStore{MemoryStore: store.NewMemoryStore(), ownerID: "s1", name: "Sandra"}
	blobs, err := blob.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	pub := &recordingPublisher{}
	svc := NewVoiceService(threads, blobs, pub, "http://localhost:8080", 5*time.Second)
	ctx := context.Background()

	res, err := svc.Upload(ctx, UploadParams{
		SenderID: "s1", SenderName: "Sandy",
		Privacy: models.PrivacyAnonymous, Expiry: models.ExpiryPermanent,
		Audio: audio(),
	})
	require.NoError(t, err)

	require.NoError(t, svc.ApproveReveal(ctx, res.ThreadID, "s1"))

	// The name refreshed by the concurrent append wins over the one read
	// before the transition
	_, evt := pub.last()
	require.Equal(t, notify.EventRevealApproved, evt.Type)
	payload := evt.Payload.(notify.RevealApprovedPayload)
	assert.Equal(t, "Sandra", payload.SenderName)
}

func TestApproveRevealRejectsNonOwner(t *testing.T) {
	svc, threads, _, _ := setupVoiceService(t)
	ctx := context.Background()

	res, err := svc.Upload(ctx, UploadParams{
		SenderID: "s1", Privacy: models.PrivacyAnonymous,
		Expiry: models.ExpiryPermanent, Audio: audio(),
	})
	require.NoError(t, err)

	err = svc.ApproveReveal(ctx, res.ThreadID, "someone-else")
	assert.ErrorIs(t, err, reveal.ErrNotOwner)

	th, _ := threads.GetThread(ctx, res.ThreadID)
	assert.Equal(t, models.RevealHidden, th.RevealState)
}

func TestApproveAutoRevealIsNoOp(t *testing.T) {
	svc, _, _, pub := setupVoiceService(t)
	ctx := context.Background()

	res, err := svc.Upload(ctx, UploadParams{
		SenderID: "s1", SenderName: "Sandy",
		Privacy: models.PrivacyAutoReveal, Expiry: models.ExpiryPermanent,
		Audio: audio(),
	})
	require.NoError(t, err)

	before := pub.count()
	require.NoError(t, svc.ApproveReveal(ctx, res.ThreadID, "s1"))
	assert.Equal(t, before, pub.count(), "approving an auto-revealed thread publishes nothing")
}

func TestTrackCountersAreBestEffort(t *testing.T) {
	svc, threads, _, _ := setupVoiceService(t)
	ctx := context.Background()

	res, err := svc.Upload(ctx, UploadParams{
		SenderID: "s1", Privacy: models.PrivacyAnonymous,
		Expiry: models.ExpiryPermanent, Audio: audio(),
	})
	require.NoError(t, err)

	svc.TrackOpen(ctx, res.ThreadID)
	svc.TrackOpen(ctx, res.ThreadID)
	svc.TrackPlay(ctx, res.ThreadID, res.MessageID)

	// Unknown ids are silently tolerated
	svc.TrackOpen(ctx, "missing")
	svc.TrackPlay(ctx, "missing", "m")
	svc.TrackPlay(ctx, res.ThreadID, "unknown-msg")

	th, _ := threads.GetThread(ctx, res.ThreadID)
	assert.Equal(t, 2, th.OpenCount)
	assert.Equal(t, 1, th.Messages[0].PlayCount)
}

func TestDashboardNewestFirst(t *testing.T) {
	svc, _, _, _ := setupVoiceService(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := svc.Upload(ctx, UploadParams{
			SenderID: "s1", Privacy: models.PrivacyAnonymous,
			Expiry: models.ExpiryPermanent, Audio: audio(),
		})
		require.NoError(t, err)
		ids = append(ids, res.ThreadID)
		time.Sleep(2 * time.Millisecond)
	}

	list, err := svc.Dashboard(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[0], list[2].ID)

	empty, err := svc.Dashboard(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestPlayStreamsStoredAudio(t *testing.T) {
	svc, threads, _, _ := setupVoiceService(t)
	ctx := context.Background()

	res, err := svc.Upload(ctx, UploadParams{
		SenderID: "s1", Privacy: models.PrivacyAnonymous,
		Expiry: models.ExpiryPermanent, Audio: audio(),
	})
	require.NoError(t, err)

	th, _ := threads.GetThread(ctx, res.ThreadID)
	rc, err := svc.Play(ctx, th.Messages[0].AudioRef)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "webm-audio-bytes", string(data))

	_, err = svc.Play(ctx, "missing.webm")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}
