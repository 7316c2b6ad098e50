package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerMutualExclusion(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, SettlementKey(1), time.Second)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Zero(t, locker.Len(), "释放后锁表应为空")
}

func TestLocalLockerKeysIndependent(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	r1, err := locker.Acquire(ctx, SettlementKey(1), time.Second)
	require.NoError(t, err)
	defer r1()

	done := make(chan struct{})
	go func() {
		r2, err := locker.Acquire(ctx, SettlementKey(2), time.Second)
		if err == nil {
			r2()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("不同交易的锁不应互相阻塞")
	}
}

func TestLocalLockerContextCancel(t *testing.T) {
	locker := NewLocalLocker()

	release, err := locker.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // 重复释放无副作用

	r, err := locker.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	r()
}
