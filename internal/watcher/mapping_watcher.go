package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/wangkunlin/AndResGuard-Jenkins-Plugin/internal/metrics"
)

// Reloader 重新加载 mapping
type Reloader interface {
	ReloadMapping() error
}

// MappingWatcher 监控 mapping 文件, 变化后整体重新解析
type MappingWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	reloader Reloader
	metrics  *metrics.Metrics
	logger   *logrus.Logger
	debounce time.Duration // 防抖时间

	mu       sync.Mutex
	timer    *time.Timer
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMappingWatcher 创建监控器
// 监控文件所在目录而不是文件本身, 编辑器保存时常以重命名方式替换文件
func NewMappingWatcher(path string, reloader Reloader, logger *logrus.Logger) (*MappingWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to add watch directory: %w", err)
	}

	mw := &MappingWatcher{
		watcher:  watcher,
		path:     abs,
		reloader: reloader,
		logger:   logger,
		debounce: 500 * time.Millisecond,
		stopChan: make(chan struct{}),
	}

	logger.WithField("mapping_file", abs).Info("Mapping watcher created")
	return mw, nil
}

// SetDebounce 设置防抖时间
func (mw *MappingWatcher) SetDebounce(d time.Duration) {
	mw.debounce = d
}

// SetMetrics 设置指标收集器
func (mw *MappingWatcher) SetMetrics(m *metrics.Metrics) {
	mw.metrics = m
}

// Start 启动监控
func (mw *MappingWatcher) Start(ctx context.Context) {
	go mw.eventLoop(ctx)
}

// eventLoop 事件循环
func (mw *MappingWatcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			mw.logger.Debug("Mapping watcher context done")
			return
		case <-mw.stopChan:
			return
		case event, ok := <-mw.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != mw.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}

			mw.logger.WithField("event", event.Op.String()).Debug("Mapping file event detected")

			// 防抖处理: 短时间内多次写入只重新加载一次
			mw.mu.Lock()
			if mw.timer != nil {
				mw.timer.Stop()
			}
			mw.timer = time.AfterFunc(mw.debounce, mw.reload)
			mw.mu.Unlock()

		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			mw.logger.WithError(err).Error("Watcher error")
		}
	}
}

// reload 解析失败时保留旧 mapping
func (mw *MappingWatcher) reload() {
	if err := mw.reloader.ReloadMapping(); err != nil {
		mw.metrics.RecordMappingReload(false)
		mw.logger.WithError(err).WithField("mapping_file", mw.path).Error("Failed to reload mapping, keeping previous version")
		return
	}
	mw.metrics.RecordMappingReload(true)
	mw.logger.WithField("mapping_file", mw.path).Info("Mapping reloaded")
}

// Stop 停止监控
func (mw *MappingWatcher) Stop() error {
	var err error
	mw.stopOnce.Do(func() {
		close(mw.stopChan)

		mw.mu.Lock()
		if mw.timer != nil {
			mw.timer.Stop()
		}
		mw.mu.Unlock()

		err = mw.watcher.Close()
	})
	return err
}
