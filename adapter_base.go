package elmuds

import (
	"log"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/roffe/elmuds/internal/syncutil"
)

// DefaultLineQueueSize bounds the lines buffered between polls.
const DefaultLineQueueSize = 1024

// BaseAdapter carries what every text adapter needs: a bounded queue of
// received lines served by ReceiveLine, an event channel and close handling.
type BaseAdapter struct {
	name string
	cfg  *AdapterConfig

	mu      syncutil.Mutex
	lines   []string
	maxSize int
	dropped int

	evtChan chan Event

	closeOnce sync.Once
	closeChan chan struct{}
}

func NewBaseAdapter(name string, cfg *AdapterConfig) *BaseAdapter {
	if cfg == nil {
		cfg = &AdapterConfig{}
	}
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(string) {}
	}
	if cfg.OnError == nil {
		cfg.OnError = func(error) {}
	}
	return &BaseAdapter{
		name:      name,
		cfg:       cfg,
		maxSize:   DefaultLineQueueSize,
		evtChan:   make(chan Event, 100),
		closeChan: make(chan struct{}),
	}
}

// Name returns the adapter name.
func (base *BaseAdapter) Name() string {
	return base.name
}

func (base *BaseAdapter) Config() *AdapterConfig {
	return base.cfg
}

func (base *BaseAdapter) Event() <-chan Event {
	return base.evtChan
}

// Done is closed when the adapter is closed.
func (base *BaseAdapter) Done() <-chan struct{} {
	return base.closeChan
}

func (base *BaseAdapter) Close() {
	base.closeOnce.Do(func() {
		close(base.closeChan)
	})
}

// PushLine queues one received line. When the queue is full the oldest
// line is dropped.
func (base *BaseAdapter) PushLine(line string) {
	base.mu.Lock()
	if len(base.lines) >= base.maxSize {
		base.lines = base.lines[1:]
		base.dropped++
	}
	base.lines = append(base.lines, line)
	base.mu.Unlock()
}

// ReceiveLine pops the oldest queued line without blocking.
func (base *BaseAdapter) ReceiveLine() (string, bool) {
	base.mu.Lock()
	defer base.mu.Unlock()
	if len(base.lines) == 0 {
		return "", false
	}
	line := base.lines[0]
	base.lines[0] = ""
	base.lines = base.lines[1:]
	return line, true
}

// Pending returns the number of queued lines.
func (base *BaseAdapter) Pending() int {
	base.mu.Lock()
	defer base.mu.Unlock()
	return len(base.lines)
}

// Dropped returns how many lines were lost to a full queue.
func (base *BaseAdapter) Dropped() int {
	base.mu.Lock()
	defer base.mu.Unlock()
	return base.dropped
}

func (base *BaseAdapter) sendEvent(eventType EventType, details string) {
	select {
	case base.evtChan <- Event{Type: eventType, Details: details}:
	default:
		_, file, no, ok := runtime.Caller(2)
		if ok {
			log.Printf("%s#%d event channel full: %s\n", filepath.Base(file), no, details)
		} else {
			log.Printf("event channel full: %s", details)
		}
	}
}

// Send an error event
func (base *BaseAdapter) Error(err error) {
	base.sendEvent(EventTypeError, err.Error())
}

// Send a warning event
func (base *BaseAdapter) Warn(warn string) {
	base.sendEvent(EventTypeWarning, warn)
}

// Send an info event
func (base *BaseAdapter) Info(info string) {
	base.sendEvent(EventTypeInfo, info)
}

// Send a debug event
func (base *BaseAdapter) Debug(debug string) {
	base.sendEvent(EventTypeDebug, debug)
}
