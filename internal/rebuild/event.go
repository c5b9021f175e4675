package rebuild

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// EventKind classifies a filesystem change.
type EventKind string

// Change kinds
const (
	EventAdded    EventKind = "added"
	EventModified EventKind = "modified"
	EventRemoved  EventKind = "removed"
)

// ChangeEvent is a single filesystem notification for a path.
type ChangeEvent struct {
	Path string
	Kind EventKind
}

func (e ChangeEvent) String() string {
	return string(e.Kind) + " " + e.Path
}

// translate maps an fsnotify event onto a ChangeEvent. Chmod-only events
// carry no content change and are dropped.
func translate(ev fsnotify.Event) (ChangeEvent, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		return ChangeEvent{Path: ev.Name, Kind: EventAdded}, true
	case ev.Has(fsnotify.Write):
		return ChangeEvent{Path: ev.Name, Kind: EventModified}, true
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// A rename is reported under the old name, which no longer exists.
		return ChangeEvent{Path: ev.Name, Kind: EventRemoved}, true
	default:
		return ChangeEvent{}, false
	}
}

// ignoredDirs are tool and version control directories never descended into.
var ignoredDirs = map[string]bool{
	".git":    true,
	".hg":     true,
	".svn":    true,
	".bzr":    true,
	".bundle": true,
	".rbx":    true,
}

// isTempFile reports editor lock, autosave, backup and swap files. Other
// dotfiles are ordinary sources.
func isTempFile(name string) bool {
	switch {
	case strings.HasPrefix(name, ".#"):
		return true
	case len(name) > 1 && strings.HasPrefix(name, "#") && strings.HasSuffix(name, "#"):
		return true
	case strings.HasSuffix(name, "~"):
		return true
	}
	ext := filepath.Ext(name)
	return ext == ".swp" || ext == ".swx" || ext == ".swo"
}

func isIgnoredDir(name string) bool {
	return ignoredDirs[name]
}
