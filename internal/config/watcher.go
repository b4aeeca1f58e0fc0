package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// reloadDebounce 编辑器保存时会连续触发多个事件,合并为一次重载
const reloadDebounce = 200 * time.Millisecond

// ConfigWatcher 配置文件监听器
// 监听配置文件所在目录,兼容先写临时文件再 rename 的保存方式;重载成功后依次调用回调
type ConfigWatcher struct {
	configPath string
	logger     logrus.FieldLogger

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewConfigWatcher 创建配置监听器
func NewConfigWatcher(cfg *Config, configPath string, logger logrus.FieldLogger) *ConfigWatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ConfigWatcher{
		config:     cfg,
		configPath: filepath.Clean(configPath),
		logger:     logger.WithField("component", "config_watcher"),
		done:       make(chan struct{}),
	}
}

// OnConfigChange 注册配置变更回调
func (w *ConfigWatcher) OnConfigChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start 开始监听配置文件
func (w *ConfigWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.configPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.configPath, err)
	}
	w.watcher = watcher

	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *ConfigWatcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.configPath || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := w.Reload(); err != nil {
				w.logger.WithError(err).WithField("file", w.configPath).Error("failed to reload config")
				continue
			}
			w.logger.WithField("file", w.configPath).Info("config reloaded")

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("config watcher error")
		}
	}
}

// Reload 重新加载配置文件并调用回调,加载失败时保留当前配置
func (w *ConfigWatcher) Reload() error {
	newCfg, err := Load(w.configPath)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.config = newCfg
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	// 回调在锁外执行
	for _, callback := range callbacks {
		callback(newCfg)
	}
	return nil
}

// Stop 停止监听,可重复调用
func (w *ConfigWatcher) Stop() {
	w.once.Do(func() {
		close(w.done)
		if w.watcher != nil {
			w.watcher.Close()
		}
		w.wg.Wait()
	})
}

// GetConfig 获取当前配置
func (w *ConfigWatcher) GetConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}
