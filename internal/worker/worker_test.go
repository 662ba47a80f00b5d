package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nvisy/internal/job"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeDelivery struct {
	mu         sync.Mutex
	data       []byte
	deliveries int
	acks       int
	naks       int
	terms      int
	nakDelay   time.Duration
}

func (d *fakeDelivery) Data() []byte    { return d.data }
func (d *fakeDelivery) Deliveries() int { return d.deliveries }

func (d *fakeDelivery) Ack(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acks++
	return nil
}

func (d *fakeDelivery) Nak(_ context.Context, delay time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.naks++
	d.nakDelay = delay
	return nil
}

func (d *fakeDelivery) Term(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.terms++
	return nil
}

func (d *fakeDelivery) counts() (acks, naks, terms int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acks, d.naks, d.terms
}

// queueSource 通道背后的投递来源，关闭并取空后表示耗尽
type queueSource struct {
	ch chan Delivery
}

func newQueueSource(capacity int) *queueSource {
	return &queueSource{ch: make(chan Delivery, capacity)}
}

func (s *queueSource) push(d Delivery) { s.ch <- d }
func (s *queueSource) close()          { close(s.ch) }
func (s *queueSource) pending() int    { return len(s.ch) }

func (s *queueSource) Next(ctx context.Context) (Delivery, error) {
	select {
	case d, ok := <-s.ch:
		if !ok {
			return nil, nil
		}
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("等待超时: %s", desc)
}

func drainWorker(t *testing.T, w *StageWorker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Shutdown(ctx))
}

// 同时处理的作业数不超过许可上限
func TestWorkerConcurrencyBound(t *testing.T) {
	const limit = 2
	const total = 5

	gate := make(chan struct{})
	var inFlight, maxInFlight, processed atomic.Int32
	handler := HandlerFunc(func(context.Context, []byte) error {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		<-gate
		inFlight.Add(-1)
		processed.Add(1)
		return nil
	})

	src := newQueueSource(total)
	deliveries := make([]*fakeDelivery, total)
	for i := range deliveries {
		deliveries[i] = &fakeDelivery{deliveries: 1}
		src.push(deliveries[i])
	}
	src.close()

	w, err := New(Options{
		Stage:             job.StageProcessing,
		Source:            src,
		Handler:           handler,
		MaxConcurrentJobs: limit,
		Logger:            zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(context.Background()) }()

	waitFor(t, "达到并发上限", func() bool { return inFlight.Load() == limit })
	close(gate)

	require.NoError(t, <-runDone)
	drainWorker(t, w)

	require.EqualValues(t, total, processed.Load())
	if got := maxInFlight.Load(); got > limit {
		t.Fatalf("并发数越过上限: %d > %d", got, limit)
	}
}

// 空闲等待中的工作者在取消后立即退出
func TestWorkerCancellationResponsive(t *testing.T) {
	src := newQueueSource(1)
	w, err := New(Options{
		Stage:   job.StagePreprocessing,
		Source:  src,
		Handler: HandlerFunc(func(context.Context, []byte) error { return nil }),
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("取消后工作者未及时退出")
	}
}

// 许可等待期间取消：未确认的消息原样留在队列
func TestWorkerCancelDuringPermitWait(t *testing.T) {
	gate := make(chan struct{})
	var inFlight atomic.Int32
	handler := HandlerFunc(func(context.Context, []byte) error {
		inFlight.Add(1)
		<-gate
		return nil
	})

	src := newQueueSource(2)
	d1 := &fakeDelivery{deliveries: 1}
	d2 := &fakeDelivery{deliveries: 1}
	src.push(d1)
	src.push(d2)

	w, err := New(Options{
		Stage:             job.StageProcessing,
		Source:            src,
		Handler:           handler,
		MaxConcurrentJobs: 1,
		Logger:            zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	// d1 占住唯一许可，d2 已被取走并停在许可获取处
	waitFor(t, "首条消息进入处理", func() bool { return inFlight.Load() == 1 })
	waitFor(t, "第二条消息被取走", func() bool { return src.pending() == 0 })
	cancel()

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("取消后工作者未及时退出")
	}

	close(gate)
	drainWorker(t, w)

	acks1, _, _ := d1.counts()
	acks2, _, _ := d2.counts()
	require.Equal(t, 1, acks1, "在途消息应已确认")
	require.Equal(t, 0, acks2, "未获许可的消息不应确认，留待重投")
}

// 立即策略：确认发生在处理器启动之前，且恰好一次
func TestWorkerAckImmediateBeforeHandler(t *testing.T) {
	d := &fakeDelivery{deliveries: 1}
	gate := make(chan struct{})
	acksAtStart := make(chan int, 1)
	handler := HandlerFunc(func(context.Context, []byte) error {
		acks, _, _ := d.counts()
		acksAtStart <- acks
		<-gate
		return nil
	})

	src := newQueueSource(1)
	src.push(d)
	src.close()

	w, err := New(Options{
		Stage:     job.StageProcessing,
		Source:    src,
		Handler:   handler,
		AckPolicy: AckImmediate,
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(context.Background()) }()

	require.Equal(t, 1, <-acksAtStart, "处理器启动时消息应已确认")
	close(gate)
	require.NoError(t, <-runDone)
	drainWorker(t, w)

	acks, naks, terms := d.counts()
	require.Equal(t, 1, acks)
	require.Equal(t, 0, naks)
	require.Equal(t, 0, terms)
}

// 处理器报错只记录，不中断循环；立即策略下也不触发重投
func TestWorkerHandlerErrorsDoNotStopLoop(t *testing.T) {
	handler := HandlerFunc(func(context.Context, []byte) error {
		return errors.New("boom")
	})

	src := newQueueSource(3)
	deliveries := make([]*fakeDelivery, 3)
	for i := range deliveries {
		deliveries[i] = &fakeDelivery{deliveries: 1}
		src.push(deliveries[i])
	}
	src.close()

	w, err := New(Options{
		Stage:     job.StagePostprocessing,
		Source:    src,
		Handler:   handler,
		AckPolicy: AckImmediate,
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	require.NoError(t, w.Run(context.Background()))
	drainWorker(t, w)

	for i, d := range deliveries {
		acks, naks, terms := d.counts()
		require.Equal(t, 1, acks, "第 %d 条", i)
		require.Equal(t, 0, naks, "第 %d 条", i)
		require.Equal(t, 0, terms, "第 %d 条", i)
	}
}

// 成功确认策略：确认只在处理成功之后
func TestWorkerAckOnSuccessAcksAfterHandler(t *testing.T) {
	d := &fakeDelivery{deliveries: 1}
	gate := make(chan struct{})
	acksAtStart := make(chan int, 1)
	handler := HandlerFunc(func(context.Context, []byte) error {
		acks, _, _ := d.counts()
		acksAtStart <- acks
		<-gate
		return nil
	})

	src := newQueueSource(1)
	src.push(d)
	src.close()

	w, err := New(Options{
		Stage:     job.StageProcessing,
		Source:    src,
		Handler:   handler,
		AckPolicy: AckOnSuccess,
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(context.Background()) }()

	require.Equal(t, 0, <-acksAtStart, "处理完成前不应确认")
	close(gate)
	require.NoError(t, <-runDone)
	drainWorker(t, w)

	acks, naks, terms := d.counts()
	require.Equal(t, 1, acks)
	require.Equal(t, 0, naks)
	require.Equal(t, 0, terms)
}

// 成功确认策略：失败按投递次数退避重投，耗尽后进死信流
func TestWorkerAckOnSuccessRetryThenTerm(t *testing.T) {
	const backoff = 10 * time.Millisecond
	handler := HandlerFunc(func(context.Context, []byte) error {
		return errors.New("boom")
	})

	first := &fakeDelivery{deliveries: 1}
	second := &fakeDelivery{deliveries: 2}
	last := &fakeDelivery{deliveries: 3}

	src := newQueueSource(3)
	src.push(first)
	src.push(second)
	src.push(last)
	src.close()

	w, err := New(Options{
		Stage:        job.StageProcessing,
		Source:       src,
		Handler:      handler,
		AckPolicy:    AckOnSuccess,
		MaxDeliver:   3,
		RetryBackoff: backoff,
		Logger:       zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	require.NoError(t, w.Run(context.Background()))
	drainWorker(t, w)

	acks, naks, terms := first.counts()
	require.Equal(t, 0, acks)
	require.Equal(t, 1, naks)
	require.Equal(t, 0, terms)
	require.Equal(t, 1*backoff, first.nakDelay)

	_, naks, _ = second.counts()
	require.Equal(t, 1, naks)
	require.Equal(t, 2*backoff, second.nakDelay)

	acks, naks, terms = last.counts()
	require.Equal(t, 0, acks)
	require.Equal(t, 0, naks)
	require.Equal(t, 1, terms, "达到投递上限应进入死信流")
}

func TestParseAckPolicy(t *testing.T) {
	p, err := ParseAckPolicy("")
	require.NoError(t, err)
	require.Equal(t, AckImmediate, p)

	p, err = ParseAckPolicy("on_success")
	require.NoError(t, err)
	require.Equal(t, AckOnSuccess, p)

	if _, err := ParseAckPolicy("maybe"); err == nil {
		t.Fatal("未知策略应当解析失败")
	}
}

func TestNewWorkerValidation(t *testing.T) {
	src := newQueueSource(1)
	handler := HandlerFunc(func(context.Context, []byte) error { return nil })

	if _, err := New(Options{Stage: "uploading", Source: src, Handler: handler}); err == nil {
		t.Fatal("未知阶段应当拒绝")
	}
	if _, err := New(Options{Stage: job.StageProcessing, Handler: handler}); err == nil {
		t.Fatal("缺少来源应当拒绝")
	}
	if _, err := New(Options{Stage: job.StageProcessing, Source: src}); err == nil {
		t.Fatal("缺少处理器应当拒绝")
	}
}
