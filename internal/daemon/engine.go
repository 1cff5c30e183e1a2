// Package daemon runs the render loop. It attaches displays, builds
// wallpapers off the loop and drives the scheduler of every display from
// power, occlusion and configuration changes.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"linux-shaderpaper/internal/config"
	"linux-shaderpaper/internal/display"
	"linux-shaderpaper/internal/power"
	"linux-shaderpaper/internal/render"
	"linux-shaderpaper/internal/schedule"
	"linux-shaderpaper/internal/utils"
	"linux-shaderpaper/internal/wallpaper"
)

const (
	// DefaultWorkers bounds concurrent wallpaper builds.
	DefaultWorkers = 2
	// DefaultHousekeeping is how often an idle loop polls the backend.
	DefaultHousekeeping = 250 * time.Millisecond
	idle                = time.Hour
)

// ErrStopped is returned by Do once the engine no longer runs.
var ErrStopped = errors.New("engine stopped")

// Options are the collaborators of an Engine.
type Options struct {
	Backend  render.Backend
	Displays display.Source
	// Power defaults to a static source reporting AC power.
	Power    power.Source
	Registry *config.Registry
	// Status defaults to an in-memory status that is never written.
	Status *config.StatusFile
	// ShaderDirs resolves shader names. Defaults to utils.ShaderDirs().
	ShaderDirs   []string
	Workers      int
	Housekeeping time.Duration
}

// annotator is implemented by backends with a debug overlay.
type annotator interface {
	Annotate(id display.ID, text string)
}

// output is the engine's view of one attached display.
type output struct {
	info       display.Info
	spec       wallpaper.Spec
	policy     schedule.Policy
	assigned   bool
	shaderPath string
	fullscreen bool

	// gen tags the latest build request; results of older ones are dropped.
	gen    uint64
	cancel context.CancelFunc
}

type result struct {
	id       display.ID
	gen      uint64
	pipeline *render.Pipeline
	image    image.Image
	label    string
	err      error
}

// Engine owns the render loop. Everything except Do runs on the goroutine
// that called Run, which must be locked to its OS thread for GL backends.
type Engine struct {
	opts    Options
	backend render.Backend
	mgr     *render.Manager
	status  *config.StatusFile

	outputs map[display.ID]*output
	snap    *config.Snapshot
	power   power.State
	gen     uint64

	ctx     context.Context
	builds  errgroup.Group
	queued  []func() error
	results chan result
	reload  chan []string
	watcher *config.Watcher
	unwatch context.CancelFunc

	calls   chan func()
	stopped chan struct{}
}

// New creates an engine. It does not touch the backend until Run.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Backend == nil:
		return nil, errors.New("engine needs a render backend")
	case opts.Displays == nil:
		return nil, errors.New("engine needs a display source")
	case opts.Registry == nil:
		return nil, errors.New("engine needs a config registry")
	}
	if opts.Power == nil {
		opts.Power = power.NewStatic(power.State{})
	}
	if opts.Status == nil {
		opts.Status = config.NewStatusFile("")
	}
	if opts.ShaderDirs == nil {
		opts.ShaderDirs = utils.ShaderDirs()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Housekeeping <= 0 {
		opts.Housekeeping = DefaultHousekeeping
	}

	snap := opts.Registry.Snapshot()
	e := &Engine{
		opts:    opts,
		backend: opts.Backend,
		mgr:     render.NewManager(opts.Backend, opts.Status, snap.Config.FallbackColor.RGBA()),
		status:  opts.Status,
		outputs: make(map[display.ID]*output),
		results: make(chan result, opts.Workers),
		reload:  make(chan []string, 1),
		calls:   make(chan func()),
		stopped: make(chan struct{}),
	}
	e.builds.SetLimit(opts.Workers)
	return e, nil
}

// Run drives the render loop until ctx is cancelled or the backend's window
// is closed. On return every surface and program has been released.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)
	ctx, cancel := context.WithCancel(ctx)
	e.ctx = ctx
	defer func() {
		cancel()
		e.shutdown()
	}()

	configCh, unsubscribe := e.opts.Registry.Subscribe()
	defer unsubscribe()

	infos, err := e.opts.Displays.Displays(ctx)
	if err != nil {
		return fmt.Errorf("list displays: %w", err)
	}

	now := time.Now()
	e.power = e.opts.Power.Current()
	e.applySnapshot(now, e.opts.Registry.Snapshot())
	for _, info := range infos {
		e.attach(now, info)
	}
	utils.L().Info("engine started",
		zap.Int("displays", len(e.outputs)),
		zap.Stringer("power", e.power))

	events := e.opts.Displays.Events()
	powerCh := e.opts.Power.Changes()
	house := time.NewTicker(e.opts.Housekeeping)
	defer house.Stop()
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		e.startQueued()
		e.renderDue(ctx, time.Now())
		if e.backend.Closed() {
			utils.L().Info("window closed, stopping")
			return nil
		}
		timer.Reset(e.untilNext(time.Now()))

		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e.handleDisplay(time.Now(), ev)
		case snap := <-configCh:
			e.applySnapshot(time.Now(), snap)
		case st, ok := <-powerCh:
			if !ok {
				powerCh = nil
				continue
			}
			e.setPower(time.Now(), st)
		case r := <-e.results:
			e.finish(time.Now(), r)
		case paths := <-e.reload:
			e.hotReload(paths)
		case fn := <-e.calls:
			fn()
		case <-e.backend.Wake():
			e.backend.Poll()
		case <-house.C:
			e.backend.Poll()
		case <-timer.C:
		}
	}
}

// Do runs fn on the render goroutine with the display manager and waits for
// it to return.
func (e *Engine) Do(ctx context.Context, fn func(m *render.Manager)) error {
	done := make(chan struct{})
	call := func() {
		defer close(done)
		fn(e.mgr)
	}
	select {
	case e.calls <- call:
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

func (e *Engine) shutdown() {
	e.stopWatcher()
	for _, o := range e.outputs {
		e.cancelBuild(o)
	}
	e.queued = nil
	_ = e.builds.Wait()
	for {
		select {
		case r := <-e.results:
			e.discard(r)
			continue
		default:
		}
		break
	}
	for id := range e.outputs {
		e.status.Forget(id)
	}
	e.mgr.Close()
	e.outputs = make(map[display.ID]*output)
	utils.L().Info("engine stopped")
}

// untilNext returns how long the loop may sleep before a display is due.
func (e *Engine) untilNext(now time.Time) time.Duration {
	wait := idle
	for _, id := range e.mgr.Displays() {
		t, _ := e.mgr.Target(id)
		at, ok := t.Sched.Next()
		if !ok {
			continue
		}
		if d := at.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// renderDue draws every due display inside one backend frame.
func (e *Engine) renderDue(ctx context.Context, now time.Time) {
	var due []display.ID
	for _, id := range e.mgr.Displays() {
		if t, _ := e.mgr.Target(id); t.Sched.Due(now) {
			due = append(due, id)
		}
	}
	if len(due) == 0 {
		return
	}
	if err := e.backend.BeginFrame(); err != nil {
		utils.L().Warn("begin frame failed", zap.Error(err))
		return
	}
	for _, id := range due {
		t, _ := e.mgr.Target(id)
		wasDegraded := t.Degraded()
		if err := e.mgr.Render(ctx, id, now); err != nil && ctx.Err() == nil {
			utils.L().Warn("frame failed", zap.String("display", string(id)), zap.Error(err))
		}
		if t.Degraded() != wasDegraded {
			e.reschedule(now, id)
		}
	}
	if err := e.backend.EndFrame(); err != nil {
		utils.L().Warn("end frame failed", zap.Error(err))
	}
}

// reschedule feeds the current signals of a display to its scheduler.
func (e *Engine) reschedule(now time.Time, id display.ID) {
	o, ok := e.outputs[id]
	t, attached := e.mgr.Target(id)
	if !ok || !attached {
		return
	}
	sig := schedule.Signals{
		Static:         t.Static(),
		Empty:          t.Content() == render.ContentNone,
		Fullscreen:     o.fullscreen,
		LidClosed:      e.power.LidClosed,
		OnBattery:      e.power.OnBattery,
		BatteryPercent: e.power.Percentage,
		HasBattery:     e.power.HasBattery,
		SurfaceFailed:  t.Degraded(),
	}
	tr, changed := t.Sched.Update(now, o.policy, sig)
	if !changed {
		return
	}
	utils.L().Info("schedule changed",
		zap.String("display", string(id)),
		zap.Stringer("from", tr.From),
		zap.Stringer("to", tr.To),
		zap.String("reason", string(tr.Reason)),
		zap.Duration("interval", tr.Interval))
	e.status.Scheduled(id, tr)
	if a, ok := e.backend.(annotator); ok {
		a.Annotate(id, describe(tr))
	}
}

func describe(tr schedule.Transition) string {
	switch {
	case tr.To.Running():
		return fmt.Sprintf("%s %.0f fps", tr.To, float64(time.Second)/float64(tr.Interval))
	case tr.Reason != schedule.ReasonNone:
		return fmt.Sprintf("%s (%s)", tr.To, tr.Reason)
	}
	return tr.To.String()
}

func (e *Engine) attach(now time.Time, info display.Info) {
	if err := e.mgr.Attach(now, info.ID, info.Geometry); err != nil {
		utils.L().Error("cannot attach display", zap.String("display", string(info.ID)), zap.Error(err))
		return
	}
	o := &output{info: info}
	e.outputs[info.ID] = o
	e.assign(now, o)
}

func (e *Engine) detach(id display.ID) {
	o, ok := e.outputs[id]
	if !ok {
		return
	}
	e.cancelBuild(o)
	e.mgr.Detach(id)
	e.status.Forget(id)
	delete(e.outputs, id)
	e.syncWatch()
}

func (e *Engine) handleDisplay(now time.Time, ev display.Event) {
	id := ev.Display.ID
	utils.L().Debug("display event", zap.String("display", string(id)), zap.Stringer("kind", ev.Kind))

	o, known := e.outputs[id]
	switch ev.Kind {
	case display.Added, display.Changed:
		if !known {
			e.attach(now, ev.Display)
			return
		}
		resized := o.info.Geometry != ev.Display.Geometry
		o.info = ev.Display
		if err := e.mgr.Resize(id, ev.Display.Geometry); err != nil {
			utils.L().Error("cannot resize display", zap.String("display", string(id)), zap.Error(err))
			e.detach(id)
			return
		}
		if resized && o.spec.Kind() == wallpaper.KindImage {
			e.show(now, o, o.spec, true)
		}
		e.reschedule(now, id)
	case display.Removed:
		e.detach(id)
	case display.Occlusion:
		if !known || o.fullscreen == ev.Fullscreen {
			return
		}
		o.fullscreen = ev.Fullscreen
		e.reschedule(now, id)
	}
}

func (e *Engine) setPower(now time.Time, st power.State) {
	if st == e.power {
		return
	}
	e.power = st
	utils.L().Info("power state changed", zap.Stringer("power", st))
	for _, id := range e.mgr.Displays() {
		e.reschedule(now, id)
	}
}

func (e *Engine) applySnapshot(now time.Time, snap *config.Snapshot) {
	if e.snap != nil && snap.Version <= e.snap.Version {
		return
	}
	e.snap = snap
	cfg := snap.Config
	if lvl, err := utils.ParseLevel(cfg.LogLevel); err == nil {
		utils.SetLevel(lvl)
	}
	e.mgr.SetFallback(cfg.FallbackColor.RGBA())
	e.syncWatcher()
	for _, id := range e.mgr.Displays() {
		e.assign(now, e.outputs[id])
	}
	utils.L().Debug("configuration applied", zap.Uint64("version", snap.Version))
}

// assign shows the configured wallpaper of a display and applies its policy.
func (e *Engine) assign(now time.Time, o *output) {
	spec, policy, ok := e.snap.Lookup(o.info.ID)
	if !ok {
		spec = wallpaper.ColorSpec(e.snap.Config.FallbackColor.RGBA())
	}
	o.policy = policy
	e.show(now, o, spec, false)
	e.reschedule(now, o.info.ID)
}

// show switches a display to spec. Unchanged specs are left alone unless
// force is set. A shader whose only change is parameter values is updated in
// place; everything else goes through a build.
func (e *Engine) show(now time.Time, o *output, spec wallpaper.Spec, force bool) {
	if o.assigned && !force && o.spec.Equal(spec) {
		return
	}
	id := o.info.ID
	o.spec, o.assigned = spec, true

	switch spec.Kind() {
	case wallpaper.KindShader:
		if !force && o.cancel == nil && e.running(id, spec) {
			ignored, err := e.mgr.UpdateParams(id, spec.Shader.Params)
			if err != nil {
				utils.L().Error("cannot update parameters", zap.String("display", string(id)), zap.Error(err))
			}
			for _, name := range ignored {
				utils.L().Warn("ignoring override", zap.String("display", string(id)), zap.String("parameter", name))
			}
			return
		}
		e.buildShader(o)
	case wallpaper.KindImage:
		e.buildImage(o)
	case wallpaper.KindColor:
		e.cancelBuild(o)
		o.shaderPath = ""
		if err := e.mgr.ApplyColor(id, spec.Color.RGBA()); err != nil {
			utils.L().Error("cannot apply color", zap.String("display", string(id)), zap.Error(err))
		}
	}
	e.syncWatch()
}

// resolve finds the file of a shader wallpaper as an absolute path.
func (e *Engine) resolve(name string) (string, bool) {
	path, ok := utils.ResolveShaderPath(name, e.opts.ShaderDirs)
	if !ok {
		return "", false
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, true
}

// running reports whether the pipeline on display id was built from the
// shader file of spec. After a failed build the old shader keeps running
// under the new spec, so the spec alone does not tell.
func (e *Engine) running(id display.ID, spec wallpaper.Spec) bool {
	t, ok := e.mgr.Target(id)
	if !ok || t.Pipeline() == nil {
		return false
	}
	path, ok := e.resolve(spec.Shader.Path)
	return ok && t.Pipeline().Path == path
}

func (e *Engine) buildShader(o *output) {
	id := o.info.ID
	path, ok := e.resolve(o.spec.Shader.Path)
	if !ok {
		e.cancelBuild(o)
		o.shaderPath = ""
		e.mgr.BuildFailed(id, fmt.Errorf("shader %q not found in %v", o.spec.Shader.Path, e.opts.ShaderDirs))
		return
	}
	o.shaderPath = path
	params := o.spec.Shader.Params
	e.request(o, func(ctx context.Context) result {
		p, err := render.Build(ctx, e.backend, path, params)
		return result{pipeline: p, err: err}
	})
}

func (e *Engine) buildImage(o *output) {
	o.shaderPath = ""
	img := *o.spec.Image
	g := o.info.Geometry
	cache := e.snap.Config.TextureCache
	e.request(o, func(ctx context.Context) result {
		rgba, err := wallpaper.Render(&img, g.Width, g.Height, cache)
		return result{image: rgba, label: img.Path, err: err}
	})
}

// request supersedes any build in flight for o and queues job on the
// worker pool.
func (e *Engine) request(o *output, job func(ctx context.Context) result) {
	e.cancelBuild(o)
	e.gen++
	o.gen = e.gen
	ctx, cancel := context.WithCancel(e.ctx)
	o.cancel = cancel

	id, gen := o.info.ID, o.gen
	run := func() error {
		r := job(ctx)
		r.id, r.gen = id, gen
		select {
		case e.results <- r:
		case <-ctx.Done():
			e.discard(r)
		}
		return nil
	}
	if !e.builds.TryGo(run) {
		e.queued = append(e.queued, run)
	}
}

func (e *Engine) startQueued() {
	for len(e.queued) > 0 && e.builds.TryGo(e.queued[0]) {
		e.queued = e.queued[1:]
	}
}

func (e *Engine) cancelBuild(o *output) {
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

// discard releases what a dropped build produced. ReleaseProgram is safe
// off the render goroutine.
func (e *Engine) discard(r result) {
	if r.pipeline != nil {
		e.backend.ReleaseProgram(r.pipeline.Program)
	}
}

func (e *Engine) finish(now time.Time, r result) {
	o, ok := e.outputs[r.id]
	if !ok || r.gen != o.gen {
		e.discard(r)
		return
	}
	e.cancelBuild(o)

	switch {
	case r.err != nil:
		e.mgr.BuildFailed(r.id, r.err)
	case r.pipeline != nil:
		if err := e.mgr.ApplyShader(now, r.id, r.pipeline); err != nil {
			e.discard(r)
			utils.L().Error("cannot apply shader", zap.String("display", string(r.id)), zap.Error(err))
		}
	case r.image != nil:
		if err := e.mgr.ApplyImage(r.id, r.image, r.label); err != nil {
			utils.L().Error("cannot apply image", zap.String("display", string(r.id)), zap.Error(err))
		}
	}
	e.reschedule(now, r.id)
}
