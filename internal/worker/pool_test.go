package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeExecutor 记录执行的构建
type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
	errs     map[string]error
	block    chan struct{}
}

func (f *fakeExecutor) ExecuteBuild(ctx context.Context, buildID string) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, buildID)
	return f.errs[buildID]
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executed)
}

// TestPool_ExecutorError 测试构建失败不影响后续任务
func TestPool_ExecutorError(t *testing.T) {
	exec := &fakeExecutor{errs: map[string]error{"bad": errors.New("boom")}}
	pool := NewPool(1, 10, exec, testLogger())
	pool.Start(context.Background())

	require.NoError(t, pool.Submit(&Task{ID: "bad"}))
	require.NoError(t, pool.Submit(&Task{ID: "good"}))
	pool.Stop()

	assert.Equal(t, 2, exec.count())
	assert.Equal(t, 0, pool.GetActiveCount())
}

// TestPool_Submit 测试异步提交, Stop 等待队列执行完
func TestPool_Submit(t *testing.T) {
	exec := &fakeExecutor{}
	pool := NewPool(1, 10, exec, testLogger())
	pool.Start(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, pool.Submit(&Task{ID: id}))
	}
	pool.Stop()

	assert.Equal(t, []string{"a", "b", "c"}, exec.executed)
}

// TestPool_QueueFull 测试队列已满
func TestPool_QueueFull(t *testing.T) {
	exec := &fakeExecutor{block: make(chan struct{})}
	pool := NewPool(1, 1, exec, testLogger())
	pool.Start(context.Background())

	require.NoError(t, pool.Submit(&Task{ID: "running"}))
	require.Eventually(t, func() bool { return pool.GetActiveCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, pool.Submit(&Task{ID: "queued"}))
	assert.Equal(t, 1, pool.GetQueueSize())
	assert.Error(t, pool.Submit(&Task{ID: "rejected"}))

	close(exec.block)
	pool.Stop()
	assert.Equal(t, 2, exec.count())
	assert.Equal(t, 0, pool.GetActiveCount())
}
