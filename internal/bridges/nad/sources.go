package nad

import (
	"fmt"
	"strings"
	"sync"
)

// NameList is a fixed-size, 1-based index→name list that the receiver can
// rename at runtime. It backs both InputSourceList and PresetNameList.
//
// Each handler owns its own lists; they are never shared between receivers.
type NameList struct {
	mu    sync.RWMutex
	names []string
}

// InputSourceList holds the receiver's source names (Source1..SourceN).
type InputSourceList = NameList

// PresetNameList holds display names for tuner presets.
type PresetNameList = NameList

// NewNameList creates a list initialised with defaults. The list size is
// fixed at len(defaults).
func NewNameList(defaults []string) *NameList {
	return &NameList{names: append([]string(nil), defaults...)}
}

// NewInputSourceList creates a source list sized for count sources.
func NewInputSourceList(count int) *InputSourceList {
	return NewNameList(DefaultSourceNames(count))
}

// NewPresetNameList creates a preset list with the default preset names.
func NewPresetNameList() *PresetNameList {
	return NewNameList(DefaultPresetNames())
}

// Len returns the fixed size of the list.
func (l *NameList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.names)
}

// Name returns the name at a 1-based index.
func (l *NameList) Name(index int) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 1 || index > len(l.names) {
		return "", fmt.Errorf("%w: %d not in 1..%d", ErrIndexOutOfRange, index, len(l.names))
	}
	return l.names[index-1], nil
}

// SetName renames the entry at a 1-based index. It reports whether the name
// actually changed.
func (l *NameList) SetName(index int, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 1 || index > len(l.names) {
		return false, fmt.Errorf("%w: %d not in 1..%d", ErrIndexOutOfRange, index, len(l.names))
	}
	if l.names[index-1] == name {
		return false, nil
	}
	l.names[index-1] = name
	return true, nil
}

// Names returns a copy of all names in index order.
func (l *NameList) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.names...)
}

// IndexOf returns the 1-based index of the first entry whose name matches
// case-insensitively.
func (l *NameList) IndexOf(name string) (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i, n := range l.names {
		if strings.EqualFold(strings.TrimSpace(n), strings.TrimSpace(name)) {
			return i + 1, true
		}
	}
	return 0, false
}

// Option is one selectable value for a host channel.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Options returns the list as channel options keyed by 1-based index.
func (l *NameList) Options() []Option {
	names := l.Names()
	out := make([]Option, len(names))
	for i, n := range names {
		out[i] = Option{Value: fmt.Sprintf("%d", i+1), Label: n}
	}
	return out
}
