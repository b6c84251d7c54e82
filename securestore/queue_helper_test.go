package securestore

import (
	"context"
	"sync"

	"github.com/Lupando/Kalix.Leo/queue"
)

// recordingQueue is a minimal in-memory queue.Queue used to assert which
// events SecureStore emits without standing up a real broker.
type recordingQueue struct {
	mu   sync.Mutex
	sent []queue.StoreDataDetails
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{}
}

func (q *recordingQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = nil
}

func (q *recordingQueue) SendMessage(_ context.Context, d queue.StoreDataDetails) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, d)
	return nil
}

func (q *recordingQueue) ListenForNextMessage(_ context.Context, _ queue.Handler) error {
	return nil
}

func (q *recordingQueue) CreateQueueIfNotExists(_ context.Context) error { return nil }
func (q *recordingQueue) DeleteQueueIfExists(_ context.Context) error   { return nil }
func (q *recordingQueue) Close() error                                  { return nil }
