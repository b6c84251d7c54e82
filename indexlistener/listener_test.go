package indexlistener

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Lupando/Kalix.Leo/queue"
)

type recordingIndexer struct {
	mu      sync.Mutex
	active  bool
	overlap bool
	seen    []queue.StoreDataDetails
}

func (r *recordingIndexer) Index(_ context.Context, d queue.StoreDataDetails) error {
	r.mu.Lock()
	if r.active {
		r.overlap = true
	}
	r.active = true
	r.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	r.mu.Lock()
	r.seen = append(r.seen, d)
	r.active = false
	r.mu.Unlock()
	return nil
}

func TestListener_PerLogicalKey_StrictOrderNoOverlap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idx := &recordingIndexer{}
	reg := NewRegistry()
	require.NoError(t, reg.RegisterType("Order", func() Indexer { return idx }))

	q, err := queue.OpenGoCloudQueue(ctx, zap.NewNop(), "mem://listener-topic", "mem://listener-topic")
	require.NoError(t, err)
	defer q.Close()

	lst := New(zap.NewNop(), q, reg, WithParallelism(4))
	done := make(chan error, 1)
	go func() { done <- lst.Start(ctx) }()

	for i := 0; i < 3; i++ {
		err := q.SendMessage(ctx, queue.StoreDataDetails{
			Container: "kalixtest",
			BasePath:  "orders/1",
			Id:        "order-1",
			Metadata:  map[string]string{"Type": "Order", "seq": string(rune('a' + i))},
		})
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		idx.mu.Lock()
		defer idx.mu.Unlock()
		return len(idx.seen) == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	idx.mu.Lock()
	defer idx.mu.Unlock()
	assert.False(t, idx.overlap, "indexer saw overlapping invocations for the same logical key")
	require.Len(t, idx.seen, 3)
	assert.Equal(t, "a", idx.seen[0].Metadata["seq"])
	assert.Equal(t, "b", idx.seen[1].Metadata["seq"])
	assert.Equal(t, "c", idx.seen[2].Metadata["seq"])
}

func TestRegistry_RejectsDuplicateType(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterType("Order", func() Indexer { return &recordingIndexer{} }))
	err := reg.RegisterType("Order", func() Indexer { return &recordingIndexer{} })
	require.Error(t, err)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRegistry_ResolveByPath_LongestPrefixWins(t *testing.T) {
	reg := NewRegistry()
	shortIdx := &recordingIndexer{}
	longIdx := &recordingIndexer{}
	require.NoError(t, reg.RegisterPath("orders", func() Indexer { return shortIdx }))
	require.NoError(t, reg.RegisterPath("orders/archive", func() Indexer { return longIdx }))

	f, prefix, ok := reg.resolveByPath("orders/archive/1")
	require.True(t, ok)
	assert.Equal(t, "orders/archive", prefix)
	assert.Same(t, longIdx, f())
}

type nopIndexer struct{ calls []queue.StoreDataDetails }

func (n *nopIndexer) Index(_ context.Context, d queue.StoreDataDetails) error {
	n.calls = append(n.calls, d)
	return nil
}

func TestDispatchBatch_DedupesByIdForTypeIndexer(t *testing.T) {
	reg := NewRegistry()
	idx := &nopIndexer{}
	require.NoError(t, reg.RegisterType("Order", func() Indexer { return idx }))
	lst := New(zap.NewNop(), nil, reg)

	batch := []queue.StoreDataDetails{
		{Container: "c", BasePath: "orders/1", Id: "order-1", Metadata: map[string]string{"Type": "Order"}},
		{Container: "c", BasePath: "orders/1", Id: "order-1", Metadata: map[string]string{"Type": "Order"}},
		{Container: "c", BasePath: "orders/1", Id: "order-2", Metadata: map[string]string{"Type": "Order"}},
	}
	require.NoError(t, lst.dispatchBatch(context.Background(), batch))
	assert.Len(t, idx.calls, 2)
}

func TestDispatchBatch_StripsReindexFlagBeforeDispatch(t *testing.T) {
	reg := NewRegistry()
	idx := &nopIndexer{}
	require.NoError(t, reg.RegisterType("Order", func() Indexer { return idx }))
	lst := New(zap.NewNop(), nil, reg)

	batch := []queue.StoreDataDetails{
		{Container: "c", BasePath: "orders/1", Id: "order-1", Metadata: map[string]string{"Type": "Order"}, Reindex: true},
	}
	require.NoError(t, lst.dispatchBatch(context.Background(), batch))
	require.Len(t, idx.calls, 1)
	assert.False(t, idx.calls[0].Reindex)
}

type reindexingIndexer struct {
	nopIndexer
	reindexCalls []queue.StoreDataDetails
}

func (r *reindexingIndexer) Reindex(_ context.Context, d queue.StoreDataDetails) error {
	r.reindexCalls = append(r.reindexCalls, d)
	return nil
}

// TestDispatchBatch_ReindexViaMetadata_SurvivesWireRoundTrip guards the
// actual wire-format boundary: StoreDataDetails.Reindex is json:"-", so a
// message that only carries Metadata[store.KeyReindex] (what Marshal
// produces) must still route to ReindexingIndexer.Reindex and must still
// have the key stripped before the indexer sees it.
func TestDispatchBatch_ReindexViaMetadata_SurvivesWireRoundTrip(t *testing.T) {
	reg := NewRegistry()
	idx := &reindexingIndexer{}
	require.NoError(t, reg.RegisterType("Order", func() Indexer { return idx }))
	lst := New(zap.NewNop(), nil, reg)

	sent := queue.StoreDataDetails{
		Container: "c",
		BasePath:  "orders/1",
		Id:        "order-1",
		Metadata:  map[string]string{"Type": "Order", "Reindex": "true"},
	}
	body, err := sent.Marshal()
	require.NoError(t, err)
	received, err := queue.UnmarshalStoreDataDetails(body)
	require.NoError(t, err)
	require.False(t, received.Reindex, "struct field must not survive Marshal/Unmarshal")
	require.Equal(t, "true", received.Metadata["Reindex"])

	require.NoError(t, lst.dispatchBatch(context.Background(), []queue.StoreDataDetails{received}))
	require.Len(t, idx.reindexCalls, 1, "Reindex should have been invoked, not Index")
	assert.Empty(t, idx.calls, "Index must not run for a reindex event")
	_, stillPresent := idx.reindexCalls[0].Metadata["Reindex"]
	assert.False(t, stillPresent, "Reindex metadata key must be stripped before reaching the indexer")
}

func TestDispatchBatch_UnresolvedIndexer_ReturnsDispatchError(t *testing.T) {
	reg := NewRegistry()
	lst := New(zap.NewNop(), nil, reg)

	batch := []queue.StoreDataDetails{{Container: "c", BasePath: "unknown/1"}}
	err := lst.dispatchBatch(context.Background(), batch)
	require.Error(t, err)
	var dispatchErr *DispatchError
	assert.ErrorAs(t, err, &dispatchErr)
}

func TestLogicalKey_EmptyBasePath_SharesCommonKey(t *testing.T) {
	assert.Equal(t, "kalixtest_", logicalKey("kalixtest", ""))
	assert.Equal(t, "kalixtest_orders", logicalKey("kalixtest", "orders/1"))
	assert.Equal(t, "kalixtest_orders", logicalKey("kalixtest", `orders\1`))
}
