package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/metrics"
)

// Executor 执行单个构建
type Executor interface {
	ExecuteBuild(ctx context.Context, buildID string) error
}

// Pool Worker 池
type Pool struct {
	workers  int
	taskChan chan *Task
	executor Executor
	metrics  *metrics.Metrics
	logger   *logrus.Logger
	wg       sync.WaitGroup
	active   atomic.Int32
}

// Task 构建任务
type Task struct {
	ID     string
	OutDir string
}

// NewPool 创建 Worker 池
func NewPool(workers, queueSize int, executor Executor, logger *logrus.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		workers:  workers,
		taskChan: make(chan *Task, queueSize),
		executor: executor,
		logger:   logger,
	}
}

// SetMetrics 设置指标收集器
func (p *Pool) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

// Start 启动 Worker 池
func (p *Pool) Start(ctx context.Context) {
	p.logger.WithField("workers", p.workers).Info("Starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.reportStats()
}

// worker Worker 协程
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.WithField("worker_id", id).Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			p.logger.WithField("worker_id", id).Info("Worker shutting down")
			return

		case task, ok := <-p.taskChan:
			if !ok {
				p.logger.WithField("worker_id", id).Debug("Task channel closed, worker exiting")
				return
			}

			p.active.Add(1)
			p.reportStats()

			p.logger.WithFields(logrus.Fields{
				"worker_id": id,
				"build_id":  task.ID,
				"out_dir":   task.OutDir,
			}).Info("Processing build")

			err := p.executor.ExecuteBuild(ctx, task.ID)
			if err != nil {
				p.logger.WithError(err).WithFields(logrus.Fields{
					"worker_id": id,
					"build_id":  task.ID,
				}).Error("Build execution failed")
			} else {
				p.logger.WithFields(logrus.Fields{
					"worker_id": id,
					"build_id":  task.ID,
				}).Info("Build completed successfully")
			}

			p.active.Add(-1)
			p.reportStats()
		}
	}
}

// Submit 提交任务（异步，不等待结果）
func (p *Pool) Submit(task *Task) error {
	select {
	case p.taskChan <- task:
		p.logger.WithField("build_id", task.ID).Debug("Build submitted to pool")
		p.reportStats()
		return nil
	default:
		return fmt.Errorf("build queue is full")
	}
}

// Stop 停止 Worker 池, 等待队列中的任务执行完
func (p *Pool) Stop() {
	p.logger.Info("Stopping worker pool")
	close(p.taskChan)
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

// GetQueueSize 获取队列中任务数
func (p *Pool) GetQueueSize() int {
	return len(p.taskChan)
}

// GetActiveCount 获取正在执行的任务数
func (p *Pool) GetActiveCount() int {
	return int(p.active.Load())
}

func (p *Pool) reportStats() {
	p.metrics.UpdateWorkerPoolStats(p.workers, p.GetActiveCount(), p.GetQueueSize())
}
