package display

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/randr"
	"github.com/jezek/xgb/xproto"

	"linux-shaderpaper/internal/utils"
)

// ErrWindowNotFound is returned when no top-level window has the given title.
var ErrWindowNotFound = errors.New("window not found")

// coverRatio is the share of a display a fullscreen window must cover to
// occlude it.
const coverRatio = 0.9

var atomNames = []string{
	"_NET_ACTIVE_WINDOW",
	"_NET_CLIENT_LIST",
	"_NET_WM_NAME",
	"_NET_WM_STATE",
	"_NET_WM_STATE_FULLSCREEN",
	"_NET_WM_STATE_BELOW",
	"_NET_WM_STATE_STICKY",
	"_NET_WM_STATE_SKIP_TASKBAR",
	"_NET_WM_STATE_SKIP_PAGER",
	"_NET_WM_WINDOW_TYPE",
	"_NET_WM_WINDOW_TYPE_DESKTOP",
	"UTF8_STRING",
}

// X11 is a Source backed by RandR and EWMH. Monitor changes come from RandR
// notifications; occlusion comes from the active window's fullscreen state.
type X11 struct {
	conn  *xgb.Conn
	root  xproto.Window
	atoms map[string]xproto.Atom

	mu       sync.Mutex
	displays []Info
	covered  map[ID]bool
	active   xproto.Window

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ Source = (*X11)(nil)

// NewX11 connects to the X server named by $DISPLAY and starts watching it.
func NewX11() (*X11, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("connect to X server: %w", err)
	}
	if err := randr.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("randr: %w", err)
	}

	x := &X11{
		conn:    conn,
		root:    xproto.Setup(conn).DefaultScreen(conn).Root,
		atoms:   make(map[string]xproto.Atom, len(atomNames)),
		covered: make(map[ID]bool),
		events:  make(chan Event, 32),
		done:    make(chan struct{}),
	}
	for _, name := range atomNames {
		r, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("intern %s: %w", name, err)
		}
		x.atoms[name] = r.Atom
	}

	mask := uint16(randr.NotifyMaskScreenChange | randr.NotifyMaskCrtcChange | randr.NotifyMaskOutputChange)
	if err := randr.SelectInputChecked(conn, x.root, mask).Check(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("randr select input: %w", err)
	}
	if err := xproto.ChangeWindowAttributesChecked(conn, x.root, xproto.CwEventMask,
		[]uint32{xproto.EventMaskPropertyChange}).Check(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("watch root window: %w", err)
	}

	ds, err := x.enumerate()
	if err != nil {
		conn.Close()
		return nil, err
	}
	x.displays = ds
	x.trackActive()

	x.wg.Add(1)
	go x.loop()
	return x, nil
}

func (x *X11) Displays(ctx context.Context) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]Info(nil), x.displays...), nil
}

func (x *X11) Events() <-chan Event { return x.events }

// Close stops the event loop and disconnects.
func (x *X11) Close() error {
	x.closeOnce.Do(func() {
		close(x.done)
		x.conn.Close()
		x.wg.Wait()
		close(x.events)
	})
	return nil
}

// enumerate lists the connected outputs that drive a CRTC.
func (x *X11) enumerate() ([]Info, error) {
	res, err := randr.GetScreenResourcesCurrent(x.conn, x.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("screen resources: %w", err)
	}
	var primary randr.Output
	if p, err := randr.GetOutputPrimary(x.conn, x.root).Reply(); err == nil {
		primary = p.Output
	}

	var out []Info
	for _, o := range res.Outputs {
		oi, err := randr.GetOutputInfo(x.conn, o, res.ConfigTimestamp).Reply()
		if err != nil {
			utils.Debug("Display: output %d: %v", o, err)
			continue
		}
		if oi.Connection != randr.ConnectionConnected || oi.Crtc == 0 {
			continue
		}
		ci, err := randr.GetCrtcInfo(x.conn, oi.Crtc, res.ConfigTimestamp).Reply()
		if err != nil || ci.Width == 0 || ci.Height == 0 {
			continue
		}
		name := string(oi.Name)
		out = append(out, Info{
			ID:   ID(name),
			Name: name,
			Geometry: Geometry{
				X: int(ci.X), Y: int(ci.Y),
				Width: int(ci.Width), Height: int(ci.Height),
				Scale: 1,
			},
			Primary: o == primary,
		})
	}
	sortInfos(out)
	return out, nil
}

func (x *X11) loop() {
	defer x.wg.Done()
	for {
		ev, xerr := x.conn.WaitForEvent()
		if ev == nil && xerr == nil {
			return
		}
		if xerr != nil {
			// Errors for windows that vanished between events are expected.
			utils.Debug("Display: X error: %v", xerr)
			continue
		}

		var events []Event
		switch e := ev.(type) {
		case randr.ScreenChangeNotifyEvent, randr.NotifyEvent:
			events = x.refresh()
		case xproto.PropertyNotifyEvent:
			switch {
			case e.Window == x.root && e.Atom == x.atoms["_NET_ACTIVE_WINDOW"]:
				x.trackActive()
				events = x.occlusion()
			case e.Window != x.root && e.Atom == x.atoms["_NET_WM_STATE"]:
				events = x.occlusion()
			}
		case xproto.DestroyNotifyEvent:
			events = x.occlusion()
		}

		for _, out := range events {
			select {
			case x.events <- out:
			case <-x.done:
				return
			}
		}
	}
}

func (x *X11) refresh() []Event {
	cur, err := x.enumerate()
	if err != nil {
		utils.Warn("Display: re-enumerate: %v", err)
		return nil
	}
	x.mu.Lock()
	events := Diff(x.displays, cur)
	x.displays = cur
	x.mu.Unlock()
	for _, ev := range events {
		utils.Info("Display: %s %s %s", ev.Kind, ev.Display.ID, ev.Display.Geometry)
	}
	return append(events, x.occlusion()...)
}

// trackActive follows the active window so its state changes are delivered.
func (x *X11) trackActive() {
	win, ok := x.windowProperty(x.root, x.atoms["_NET_ACTIVE_WINDOW"])
	x.mu.Lock()
	prev := x.active
	if ok {
		x.active = win
	} else {
		x.active = 0
	}
	x.mu.Unlock()
	if ok && win != prev && win != 0 {
		xproto.ChangeWindowAttributes(x.conn, win, xproto.CwEventMask,
			[]uint32{xproto.EventMaskPropertyChange | xproto.EventMaskStructureNotify})
	}
}

// occlusion recomputes which displays the active fullscreen window covers
// and returns an event per display whose state changed.
func (x *X11) occlusion() []Event {
	x.mu.Lock()
	active := x.active
	displays := append([]Info(nil), x.displays...)
	x.mu.Unlock()

	covering := map[ID]bool{}
	if active != 0 && x.fullscreen(active) {
		if g, ok := x.rootGeometry(active); ok {
			for _, id := range Covered(g, displays) {
				covering[id] = true
			}
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	var events []Event
	for _, d := range displays {
		if covering[d.ID] != x.covered[d.ID] {
			events = append(events, Event{Kind: Occlusion, Display: d, Fullscreen: covering[d.ID]})
		}
	}
	x.covered = covering
	return events
}

func (x *X11) fullscreen(win xproto.Window) bool {
	r, err := xproto.GetProperty(x.conn, false, win, x.atoms["_NET_WM_STATE"], xproto.AtomAtom, 0, 64).Reply()
	if err != nil {
		return false
	}
	for _, a := range decodeIDs(r.Value) {
		if xproto.Atom(a) == x.atoms["_NET_WM_STATE_FULLSCREEN"] {
			return true
		}
	}
	return false
}

func (x *X11) rootGeometry(win xproto.Window) (Geometry, bool) {
	g, err := xproto.GetGeometry(x.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return Geometry{}, false
	}
	t, err := xproto.TranslateCoordinates(x.conn, win, x.root, 0, 0).Reply()
	if err != nil {
		return Geometry{}, false
	}
	return Geometry{X: int(t.DstX), Y: int(t.DstY), Width: int(g.Width), Height: int(g.Height), Scale: 1}, true
}

func (x *X11) windowProperty(win xproto.Window, prop xproto.Atom) (xproto.Window, bool) {
	r, err := xproto.GetProperty(x.conn, false, win, prop, xproto.AtomWindow, 0, 1).Reply()
	if err != nil {
		return 0, false
	}
	ids := decodeIDs(r.Value)
	if len(ids) == 0 {
		return 0, false
	}
	return xproto.Window(ids[0]), true
}

// MarkDesktop finds the top-level window titled title and turns it into a
// desktop window: below all others, on every workspace, out of the taskbar.
// The window manager only reads the type on map, so the window is remapped.
func (x *X11) MarkDesktop(title string) error {
	var win xproto.Window
	var err error
	for attempt := 0; attempt < 20; attempt++ {
		if win, err = x.findWindow(title); err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		return err
	}

	typ := encodeIDs([]uint32{uint32(x.atoms["_NET_WM_WINDOW_TYPE_DESKTOP"])})
	state := encodeIDs([]uint32{
		uint32(x.atoms["_NET_WM_STATE_BELOW"]),
		uint32(x.atoms["_NET_WM_STATE_STICKY"]),
		uint32(x.atoms["_NET_WM_STATE_SKIP_TASKBAR"]),
		uint32(x.atoms["_NET_WM_STATE_SKIP_PAGER"]),
	})

	xproto.UnmapWindow(x.conn, win)
	xproto.ChangeProperty(x.conn, xproto.PropModeReplace, win, x.atoms["_NET_WM_WINDOW_TYPE"],
		xproto.AtomAtom, 32, uint32(len(typ)/4), typ)
	xproto.ChangeProperty(x.conn, xproto.PropModeReplace, win, x.atoms["_NET_WM_STATE"],
		xproto.AtomAtom, 32, uint32(len(state)/4), state)
	xproto.MapWindow(x.conn, win)
	if err := xproto.ConfigureWindowChecked(x.conn, win, xproto.ConfigWindowStackMode,
		[]uint32{xproto.StackModeBelow}).Check(); err != nil {
		return fmt.Errorf("lower window: %w", err)
	}
	utils.Info("Display: window %d marked as desktop", win)
	return nil
}

func (x *X11) findWindow(title string) (xproto.Window, error) {
	var candidates []xproto.Window
	if r, err := xproto.GetProperty(x.conn, false, x.root, x.atoms["_NET_CLIENT_LIST"],
		xproto.AtomWindow, 0, 1024).Reply(); err == nil {
		for _, id := range decodeIDs(r.Value) {
			candidates = append(candidates, xproto.Window(id))
		}
	}
	// Windows not yet managed are only found in the tree.
	if tree, err := xproto.QueryTree(x.conn, x.root).Reply(); err == nil {
		candidates = append(candidates, tree.Children...)
	}

	for _, w := range candidates {
		if x.title(w) == title {
			return w, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrWindowNotFound, title)
}

func (x *X11) title(w xproto.Window) string {
	if r, err := xproto.GetProperty(x.conn, false, w, x.atoms["_NET_WM_NAME"],
		x.atoms["UTF8_STRING"], 0, 256).Reply(); err == nil && len(r.Value) > 0 {
		return string(r.Value)
	}
	if r, err := xproto.GetProperty(x.conn, false, w, xproto.AtomWmName,
		xproto.AtomString, 0, 256).Reply(); err == nil {
		return string(r.Value)
	}
	return ""
}

// Covered returns the displays a window covers almost entirely.
func Covered(win Geometry, displays []Info) []ID {
	wr := image.Rect(win.X, win.Y, win.X+win.Width, win.Y+win.Height)
	var out []ID
	for _, d := range displays {
		g := d.Geometry
		dr := image.Rect(g.X, g.Y, g.X+g.Width, g.Y+g.Height)
		area := dr.Dx() * dr.Dy()
		if area == 0 {
			continue
		}
		in := wr.Intersect(dr)
		if float64(in.Dx()*in.Dy()) >= coverRatio*float64(area) {
			out = append(out, d.ID)
		}
	}
	return out
}

// Bounds returns the smallest rectangle containing every display.
func Bounds(displays []Info) Geometry {
	if len(displays) == 0 {
		return Geometry{}
	}
	var r image.Rectangle
	for i, d := range displays {
		g := d.Geometry
		dr := image.Rect(g.X, g.Y, g.X+g.Width, g.Y+g.Height)
		if i == 0 {
			r = dr
			continue
		}
		r = r.Union(dr)
	}
	return Geometry{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy(), Scale: 1}
}

// decodeIDs reads 32-bit property values in the X server's byte order, which
// xgb always presents as little-endian.
func decodeIDs(b []byte) []uint32 {
	out := make([]uint32, 0, len(b)/4)
	for i := 0; i+4 <= len(b); i += 4 {
		out = append(out, binary.LittleEndian.Uint32(b[i:]))
	}
	return out
}

func encodeIDs(ids []uint32) []byte {
	b := make([]byte, 4*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint32(b[i*4:], id)
	}
	return b
}
