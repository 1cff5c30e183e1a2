package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"linux-shaderpaper/internal/display"
	"linux-shaderpaper/internal/render"
	"linux-shaderpaper/internal/schedule"
	"linux-shaderpaper/internal/utils"
)

// DisplayStatus is what the status file records for one display.
type DisplayStatus struct {
	Display   string    `yaml:"display"`
	Session   string    `yaml:"session,omitempty"`
	Content   string    `yaml:"content"`
	Wallpaper string    `yaml:"wallpaper,omitempty"`
	State     string    `yaml:"state,omitempty"`
	Reason    string    `yaml:"reason,omitempty"`
	Degraded  bool      `yaml:"degraded,omitempty"`
	Error     string    `yaml:"error,omitempty"`
	Updated   time.Time `yaml:"updated"`
}

// StatusFile persists the per-display status as YAML so a settings
// application can show what is running. It implements render.Reporter.
type StatusFile struct {
	path string
	now  func() time.Time

	mu       sync.Mutex
	displays map[display.ID]*DisplayStatus
}

var _ render.Reporter = (*StatusFile)(nil)

// DefaultStatusPath is status.yaml in the state directory.
func DefaultStatusPath() string {
	return filepath.Join(utils.StateDir(), "status.yaml")
}

// NewStatusFile creates a reporter writing to path.
func NewStatusFile(path string) *StatusFile {
	return &StatusFile{path: path, now: time.Now, displays: make(map[display.ID]*DisplayStatus)}
}

func (f *StatusFile) entry(id display.ID) *DisplayStatus {
	st, ok := f.displays[id]
	if !ok {
		st = &DisplayStatus{Display: string(id)}
		f.displays[id] = st
	}
	return st
}

// Report records a content change.
func (f *StatusFile) Report(s render.Status) {
	f.mu.Lock()
	st := f.entry(s.Display)
	st.Session = s.Session
	st.Content = s.Content.String()
	st.Wallpaper = s.Wallpaper
	st.Degraded = s.Degraded
	st.Error = ""
	if s.Err != nil {
		st.Error = s.Err.Error()
	}
	st.Updated = f.now()
	f.mu.Unlock()
	f.flush()
}

// Scheduled records a scheduler transition.
func (f *StatusFile) Scheduled(id display.ID, t schedule.Transition) {
	f.mu.Lock()
	st := f.entry(id)
	st.State = t.To.String()
	st.Reason = string(t.Reason)
	st.Updated = f.now()
	f.mu.Unlock()
	f.flush()
}

// Forget drops a detached display.
func (f *StatusFile) Forget(id display.ID) {
	f.mu.Lock()
	delete(f.displays, id)
	f.mu.Unlock()
	f.flush()
}

// Snapshot returns the recorded statuses ordered by display.
func (f *StatusFile) Snapshot() []DisplayStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]DisplayStatus, 0, len(f.displays))
	for _, st := range f.displays {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Display < out[j].Display })
	return out
}

func (f *StatusFile) flush() {
	if f.path == "" {
		return
	}
	doc := struct {
		PID      int             `yaml:"pid"`
		Displays []DisplayStatus `yaml:"displays"`
	}{PID: os.Getpid(), Displays: f.Snapshot()}

	data, err := yaml.Marshal(doc)
	if err == nil {
		err = os.MkdirAll(filepath.Dir(f.path), 0o755)
	}
	if err == nil {
		err = writeAtomic(f.path, data)
	}
	if err != nil {
		utils.Warn("Status: cannot write %s: %v", f.path, err)
	}
}

// ReadStatus loads a status file written by a running daemon.
func ReadStatus(path string) ([]DisplayStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Displays []DisplayStatus `yaml:"displays"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc.Displays, nil
}

// writeAtomic replaces path so readers never see a partial file.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
