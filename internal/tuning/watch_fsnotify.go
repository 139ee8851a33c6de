package tuning

import (
	"github.com/fsnotify/fsnotify"

	"github.com/stutter-lang/stutter/internal/gc"
)

// Watcher re-applies a tuning file to its controller whenever the file
// changes on disk, using OS-native notifications.
type Watcher struct {
	w    *fsnotify.Watcher
	path string
	ctl  Controller
	erC  chan error
}

// Watch loads and applies the tuning file at path, then keeps applying it
// on every change until Close.
func Watch(path string, ctl Controller) (*Watcher, error) {
	opts, err := Load(path)
	if err != nil {
		return nil, err
	}
	Apply(opts, ctl)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	tw := &Watcher{w: w, path: path, ctl: ctl, erC: make(chan error, 1)}
	go tw.loop()

	return tw, nil
}

func (tw *Watcher) loop() {
	for {
		select {
		case ev, ok := <-tw.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			tw.reload()
		case err, ok := <-tw.w.Errors:
			if !ok {
				return
			}
			select {
			case tw.erC <- err:
			default:
			}
		}
	}
}

func (tw *Watcher) reload() {
	opts, err := Load(tw.path)
	if err != nil {
		gc.WARN("ignoring tuning file: %v", err)
		select {
		case tw.erC <- err:
		default:
		}
		return
	}
	Apply(opts, tw.ctl)
	gc.INFO("applied tuning file %s", tw.path)
}

// Errors reports watch and reload failures.
func (tw *Watcher) Errors() <-chan error { return tw.erC }

// Close stops watching.
func (tw *Watcher) Close() error { return tw.w.Close() }
