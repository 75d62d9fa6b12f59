package executor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestPerSenderFIFOOutOfOrderArrivals reproduces scenario S2 from the spec:
// tasks for three senders arrive at the pool out of seq order, and each
// sender's callback must observe its own seq_nums in strictly increasing
// order, independent of arrival order or of the other senders.
func TestPerSenderFIFOOutOfOrderArrivals(t *testing.T) {
	var mu sync.Mutex
	observed := make(map[string][]uint64)

	pool := NewPool(DefaultCapacity, time.Hour, func(sender string, task Task) {
		mu.Lock()
		observed[sender] = append(observed[sender], task.SeqNum)
		mu.Unlock()
	}, nil)
	t.Cleanup(pool.StopAll)

	type arrival struct {
		sender string
		seq    uint64
	}
	arrivals := []arrival{
		{"alpha", 2}, {"alpha", 0}, {"beta", 1}, {"alpha", 1}, {"beta", 0}, {"gamma", 0},
	}
	for _, a := range arrivals {
		require.NoError(t, pool.Enqueue(a.sender, Task{SeqNum: a.seq}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(observed["alpha"]) == 3 && len(observed["beta"]) == 2 && len(observed["gamma"]) == 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []uint64{0, 1, 2}, observed["alpha"])
	require.Equal(t, []uint64{0, 1}, observed["beta"])
	require.Equal(t, []uint64{0}, observed["gamma"])
}

// TestConcurrentStressPerSenderOrder reproduces scenario S3 at reduced
// scale: several concurrent "writers" enqueue sequential tasks per sender
// with jitter; each sender's observed sequence must still be 0..N-1 in
// order.
func TestConcurrentStressPerSenderOrder(t *testing.T) {
	const senders = 6
	const perSender = 40

	var mu sync.Mutex
	observed := make(map[string][]uint64)

	pool := NewPool(DefaultCapacity, time.Hour, func(sender string, task Task) {
		mu.Lock()
		observed[sender] = append(observed[sender], task.SeqNum)
		mu.Unlock()
	}, nil)
	t.Cleanup(pool.StopAll)

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		name := string(rune('A' + s))
		go func(sender string) {
			defer wg.Done()
			order := []uint64{}
			for i := uint64(0); i < perSender; i++ {
				order = append(order, i)
			}
			// Submit in a shuffled order to simulate reordered filesystem
			// events, biased but deterministic enough for a unit test.
			for i := len(order) - 1; i > 0; i-- {
				j := int(order[i]*2654435761) % (i + 1)
				if j < 0 {
					j = -j
				}
				order[i], order[j] = order[j], order[i]
			}
			for _, seq := range order {
				require.NoError(t, pool.Enqueue(sender, Task{SeqNum: seq}))
			}
		}(name)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for s := 0; s < senders; s++ {
			if len(observed[string(rune('A'+s))]) != perSender {
				return false
			}
		}
		return true
	}, 10*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for s := 0; s < senders; s++ {
		name := string(rune('A' + s))
		for i, seq := range observed[name] {
			require.Equal(t, uint64(i), seq, "sender %s out of order at position %d", name, i)
		}
	}
}

func TestTryEnqueueReturnsQueueFullAtCapacity(t *testing.T) {
	block := make(chan struct{})
	pool := NewPool(2, time.Hour, func(sender string, task Task) {
		<-block
	}, nil)
	t.Cleanup(func() {
		close(block)
		pool.StopAll()
	})

	require.NoError(t, pool.TryEnqueue("p", Task{SeqNum: 0}))
	// seq 0 is immediately picked up by the worker and blocks inside
	// process(); seq 1 and 2 fill the buffer to capacity 2.
	require.Eventually(t, func() bool {
		err := pool.TryEnqueue("p", Task{SeqNum: 1})
		return err == nil
	}, time.Second, time.Millisecond)
	require.NoError(t, pool.TryEnqueue("p", Task{SeqNum: 2}))
	require.ErrorIs(t, pool.TryEnqueue("p", Task{SeqNum: 3}), ErrQueueFull)
}

func TestDepthReflectsBufferedAndReadyTasks(t *testing.T) {
	block := make(chan struct{})
	pool := NewPool(DefaultCapacity, time.Hour, func(sender string, task Task) {
		<-block
	}, nil)
	t.Cleanup(func() {
		close(block)
		pool.StopAll()
	})

	require.Equal(t, 0, pool.Depth())

	require.NoError(t, pool.Enqueue("p", Task{SeqNum: 0})) // picked up, blocks in process()
	require.NoError(t, pool.Enqueue("p", Task{SeqNum: 2})) // out of order, stays buffered
	require.NoError(t, pool.Enqueue("p", Task{SeqNum: 3})) // out of order, stays buffered

	require.Eventually(t, func() bool {
		return pool.Depth() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestStopAllDiscardsBufferedTasksAndReturns(t *testing.T) {
	processed := make(chan uint64, 10)
	pool := NewPool(DefaultCapacity, time.Hour, func(sender string, task Task) {
		processed <- task.SeqNum
	}, nil)

	require.NoError(t, pool.Enqueue("p", Task{SeqNum: 0}))
	<-processed
	// seq 1 never arrives, so seq 2 stays in the reorder buffer.
	require.NoError(t, pool.Enqueue("p", Task{SeqNum: 2}))

	done := make(chan struct{})
	go func() {
		pool.StopAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StopAll did not return")
	}
	require.Len(t, processed, 0)
	require.Equal(t, 0, pool.Depth())
}
