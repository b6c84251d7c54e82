package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGoCloudQueue_SendAndReceive_RoundTrip(t *testing.T) {
	ctx := context.Background()
	q, err := OpenGoCloudQueue(ctx, zap.NewNop(), "mem://topicA", "mem://topicA")
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.SendMessage(ctx, StoreDataDetails{
		Container: "kalixtest",
		BasePath:  "tests/A.dat",
		Metadata:  map[string]string{"Type": "Order"},
	}))

	listenCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	received := make(chan StoreDataDetails, 1)
	go func() {
		_ = q.ListenForNextMessage(listenCtx, func(_ context.Context, d StoreDataDetails) error {
			received <- d
			cancel()
			return nil
		})
	}()

	select {
	case d := <-received:
		require.Equal(t, "kalixtest", d.Container)
		require.Equal(t, "tests/A.dat", d.BasePath)
		require.Equal(t, "Order", d.Metadata["Type"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestGoCloudQueue_HandlerError_LeavesMessageUnacked(t *testing.T) {
	ctx := context.Background()
	q, err := OpenGoCloudQueue(ctx, zap.NewNop(), "mem://topicB", "mem://topicB")
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.SendMessage(ctx, StoreDataDetails{Container: "c", BasePath: "p"}))

	listenCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	attempts := make(chan int, 4)
	count := 0
	go func() {
		_ = q.ListenForNextMessage(listenCtx, func(_ context.Context, d StoreDataDetails) error {
			count++
			attempts <- count
			if count < 2 {
				return errAlwaysFailsOnce
			}
			cancel()
			return nil
		})
	}()

	select {
	case n := <-attempts:
		require.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first attempt")
	}
}

var errAlwaysFailsOnce = &testError{"synthetic handler failure"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
