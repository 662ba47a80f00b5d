package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// gateBlobWriter 在 WriteBlobs 入口阻塞，由测试控制放行时机
type gateBlobWriter struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
	batches [][]*BlobData
	mu      sync.Mutex
}

func (g *gateBlobWriter) WriteBlobs(_ context.Context, blobs []*BlobData) error {
	g.calls.Add(1)
	g.mu.Lock()
	g.batches = append(g.batches, blobs)
	g.mu.Unlock()
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return nil
}

func newTestSink(fake blobWriter, size int) *Sink {
	return NewSink(blobProvider(fake), SinkOptions{BufferSize: size, Logger: zap.NewNop()})
}

// 入队的值在一次刷写中按顺序成批写出
func TestSinkFlushBatchesInOrder(t *testing.T) {
	ctx := context.Background()
	fake := &fakeBlobWriter{}
	s := newTestSink(fake, 8)

	keys := []string{"1.txt", "2.txt", "3.txt"}
	for _, k := range keys {
		require.NoError(t, s.Enqueue(ctx, sampleBlob(k)))
	}

	receipt, err := s.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, receipt.Written)
	require.Equal(t, 0, receipt.Dropped)

	require.Len(t, fake.batches, 1)
	for i, b := range fake.batches[0] {
		if b.Key != keys[i] {
			t.Fatalf("第 %d 个值应为 %s, 实际 %s", i, keys[i], b.Key)
		}
	}
}

func TestSinkFlushEmptyBuffer(t *testing.T) {
	fake := &fakeBlobWriter{}
	s := newTestSink(fake, 4)

	receipt, err := s.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, receipt.Written)
	require.Empty(t, fake.batches)
}

// 并发 Flush 共享同一次底层写入，不产生重复批次
func TestSinkFlushIdempotent(t *testing.T) {
	ctx := context.Background()
	fake := &gateBlobWriter{entered: make(chan struct{}), release: make(chan struct{})}
	s := newTestSink(fake, 8)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Enqueue(ctx, sampleBlob("k")))
	}

	const joiners = 4
	receipts := make([]*WriteReceipt, joiners+1)
	errs := make([]error, joiners+1)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		receipts[0], errs[0] = s.Flush(ctx)
	}()
	<-fake.entered // 首个调用者已进入底层写入

	for i := 1; i <= joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipts[i], errs[i] = s.Flush(ctx)
		}(i)
	}
	time.Sleep(50 * time.Millisecond) // 等待加入者挂起在完成信号上
	close(fake.release)
	wg.Wait()

	if got := fake.calls.Load(); got != 1 {
		t.Fatalf("并发 Flush 应只触发一次底层写入, 实际 %d", got)
	}
	for i := 0; i <= joiners; i++ {
		require.NoError(t, errs[i], "第 %d 个调用者", i)
		require.NotNil(t, receipts[i], "第 %d 个调用者", i)
		require.Equal(t, 3, receipts[i].Written, "第 %d 个调用者", i)
	}
}

// 等待中的 Flush 加入者受自身上下文约束
func TestSinkFlushJoinerContextCancel(t *testing.T) {
	ctx := context.Background()
	fake := &gateBlobWriter{entered: make(chan struct{}), release: make(chan struct{})}
	s := newTestSink(fake, 4)
	require.NoError(t, s.Enqueue(ctx, sampleBlob("k")))

	go s.Flush(ctx)
	<-fake.entered

	joinCtx, cancel := context.WithCancel(ctx)
	cancel()
	_, err := s.Flush(joinCtx)
	require.ErrorIs(t, err, context.Canceled)

	close(fake.release)
}

// 缓冲满时 Enqueue 阻塞，直至上下文取消
func TestSinkEnqueueBlocksWhenFull(t *testing.T) {
	ctx := context.Background()
	fake := &fakeBlobWriter{}
	s := newTestSink(fake, 1)

	require.NoError(t, s.Enqueue(ctx, sampleBlob("a")))

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := s.Enqueue(waitCtx, sampleBlob("b"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// 刷写腾出空位后恢复入队
	_, err = s.Flush(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(ctx, sampleBlob("b")))
}

// Close 执行最后一次刷写并拒绝后续操作
func TestSinkClose(t *testing.T) {
	ctx := context.Background()
	fake := &fakeBlobWriter{}
	s := newTestSink(fake, 4)

	require.NoError(t, s.Enqueue(ctx, sampleBlob("last.txt")))

	receipt, err := s.Close(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, receipt.Written)
	require.Len(t, fake.batches, 1)

	require.ErrorIs(t, s.Enqueue(ctx, sampleBlob("late")), ErrSinkClosed)

	_, err = s.Close(ctx)
	require.ErrorIs(t, err, ErrSinkClosed)
}

// 关闭会唤醒因缓冲满而阻塞的入队者
func TestSinkCloseUnblocksEnqueue(t *testing.T) {
	ctx := context.Background()
	fake := &fakeBlobWriter{}
	s := newTestSink(fake, 1)
	require.NoError(t, s.Enqueue(ctx, sampleBlob("a")))

	enqErr := make(chan error, 1)
	go func() {
		enqErr <- s.Enqueue(ctx, sampleBlob("b"))
	}()
	time.Sleep(20 * time.Millisecond)

	_, err := s.Close(ctx)
	require.NoError(t, err)

	select {
	case err := <-enqErr:
		if !errors.Is(err, ErrSinkClosed) && err != nil {
			t.Fatalf("阻塞中的入队应返回关闭错误或在关闭前成功, 实际 %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("关闭后入队者仍未返回")
	}
}

// 形状不符的丢弃计数跨多次刷写累计
func TestSinkDroppedAccumulates(t *testing.T) {
	ctx := context.Background()
	fake := &fakeBlobWriter{}
	s := newTestSink(fake, 8)

	require.NoError(t, s.Enqueue(ctx, sampleBlob("ok")))
	require.NoError(t, s.Enqueue(ctx, sampleRecord("形状不符")))
	receipt, err := s.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, receipt.Dropped)
	require.EqualValues(t, 1, s.Dropped())

	require.NoError(t, s.Enqueue(ctx, sampleEmbedding("形状不符")))
	receipt, err = s.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, receipt.Dropped)
	require.EqualValues(t, 2, s.Dropped())
}

func TestSinkBackend(t *testing.T) {
	s := newTestSink(&fakeBlobWriter{}, 4)
	require.Equal(t, KindS3, s.Backend())
}
