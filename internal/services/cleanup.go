package services

import (
	"context"
	"log"
	"time"

	"github.com/sandy-echo/echo-backend/internal/blob"
	"github.com/sandy-echo/echo-backend/internal/store"
)

// CleanupService deletes threads whose advisory expiry has passed, together
// with their stored audio. It runs as a background goroutine and periodically
// scans the store's expiry index.
type CleanupService struct {
	threads  store.ThreadStore
	blobs    blob.Store
	interval time.Duration
	stopChan chan struct{}
}

// NewCleanupService creates a new cleanup service.
// - interval: how often to scan for expired threads (e.g. 10 minutes)
func NewCleanupService(threads store.ThreadStore, blobs blob.Store, interval time.Duration) *CleanupService {
	return &CleanupService{
		threads:  threads,
		blobs:    blobs,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background cleanup worker.
// This method runs in its own goroutine and should be called with 'go'.
func (s *CleanupService) Start() {
	log.Printf("Cleanup service started (interval: %v)", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopChan:
			log.Println("Cleanup service stopped")
			return
		}
	}
}

// Stop gracefully shuts down the cleanup service.
func (s *CleanupService) Stop() {
	close(s.stopChan)
}

// cleanup finds and deletes all threads past their expiry, including their
// audio blobs.
func (s *CleanupService) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	expired, err := s.threads.ListExpired(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("Cleanup error: failed to list expired threads: %v", err)
		return
	}

	if len(expired) == 0 {
		return
	}

	log.Printf("Cleaning up %d expired threads", len(expired))

	for _, t := range expired {
		for _, msg := range t.Messages {
			if err := s.blobs.Delete(ctx, msg.AudioRef); err != nil {
				log.Printf("Failed to delete audio %s for thread %s: %v", msg.AudioRef, t.ID, err)
			}
		}
		if err := s.threads.DeleteThread(ctx, t.ID); err != nil {
			log.Printf("Failed to delete expired thread %s: %v", t.ID, err)
		} else {
			log.Printf("Deleted expired thread: %s", t.ID)
		}
	}
}
