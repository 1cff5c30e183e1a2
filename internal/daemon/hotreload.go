package daemon

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"linux-shaderpaper/internal/config"
	"linux-shaderpaper/internal/utils"
)

// syncWatcher starts or stops the shader watcher to follow hot_reload.
func (e *Engine) syncWatcher() {
	want := e.snap.Config.HotReload
	switch {
	case want && e.watcher == nil:
		ctx, cancel := context.WithCancel(e.ctx)
		w, err := config.NewWatcher(0, func(paths []string) { e.onShaderChange(ctx, paths) })
		if err != nil {
			cancel()
			utils.L().Warn("shader hot reload unavailable", zap.Error(err))
			return
		}
		w.Start(ctx)
		e.watcher, e.unwatch = w, cancel
		e.syncWatch()
	case !want && e.watcher != nil:
		e.stopWatcher()
	}
}

// stopWatcher must cancel before Stop: the watcher goroutine may be blocked
// handing paths to this loop.
func (e *Engine) stopWatcher() {
	if e.watcher == nil {
		return
	}
	e.unwatch()
	e.watcher.Stop()
	e.watcher, e.unwatch = nil, nil
}

// syncWatch points the watcher at the shader files currently in use.
func (e *Engine) syncWatch() {
	if e.watcher == nil {
		return
	}
	var paths []string
	for _, o := range e.outputs {
		if o.shaderPath != "" {
			paths = append(paths, o.shaderPath)
		}
	}
	e.watcher.Set(paths)
}

// onShaderChange runs on the watcher goroutine and hands the paths to the
// render loop.
func (e *Engine) onShaderChange(ctx context.Context, paths []string) {
	select {
	case e.reload <- paths:
	case <-ctx.Done():
	}
}

// hotReload rebuilds every display showing one of paths. The running
// pipeline stays on screen until the new one is built, and stays for good if
// the build fails.
func (e *Engine) hotReload(paths []string) {
	changed := make(map[string]bool, len(paths))
	for _, p := range paths {
		changed[filepath.Clean(p)] = true
	}
	for _, id := range e.mgr.Displays() {
		o := e.outputs[id]
		if o.shaderPath == "" || !changed[o.shaderPath] {
			continue
		}
		utils.L().Info("shader changed, rebuilding",
			zap.String("display", string(id)),
			zap.String("path", o.shaderPath))
		e.buildShader(o)
	}
}
