package rendergraph

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/rendergraph/device"
	"github.com/gogpu/rendergraph/dsl"
)

// Worker drives a single dedicated compile goroutine fed by a
// single-producer "latest scene" queue. The policy is drop older
// updates: whenever a new scene arrives while the worker is busy
// compiling, any queued-but-not-yet-started scene is discarded in favor
// of the newest one. A successful compile is published to readers via an
// atomic pointer swap; Current never blocks and never observes a
// partially-built graph.
type Worker struct {
	adapter device.Adapter
	baker   AssetBaker
	opts    []CompileOption
	onError func(error)

	mu      sync.Mutex
	pending *dsl.Scene // latest not-yet-started submission, nil if none

	wake chan struct{}
	stop chan struct{}

	current atomic.Pointer[Result]
}

// NewWorker starts the worker's compile goroutine. onError, if non-nil,
// is invoked on the worker goroutine whenever a submitted scene fails to
// compile; the caller decides whether to respond by submitting
// ErrorPlaneScene as a visible fallback.
func NewWorker(adapter device.Adapter, baker AssetBaker, onError func(error), opts ...CompileOption) *Worker {
	w := &Worker{
		adapter: adapter,
		baker:   baker,
		opts:    opts,
		onError: onError,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Submit hands a new scene to the worker. If the worker is currently
// compiling a prior scene, this replaces whatever scene was queued
// behind it; only the newest submission present when the worker next
// becomes free is ever compiled. Submit never blocks.
func (w *Worker) Submit(scene *dsl.Scene) {
	w.mu.Lock()
	w.pending = scene
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
		// a wakeup is already pending; the worker will pick up the
		// latest scene when it gets to it
	}
}

// Current returns the most recently committed successful compile result,
// or nil if no compile has yet succeeded. Safe for concurrent use; never
// blocks on an in-flight compile.
func (w *Worker) Current() *Result {
	return w.current.Load()
}

// Close stops the worker's goroutine after any in-flight compile
// finishes. A scene submitted but not yet started at Close time is
// dropped without compiling.
func (w *Worker) Close() {
	close(w.stop)
}

func (w *Worker) run() {
	for {
		select {
		case <-w.stop:
			return
		case <-w.wake:
		}
		// a wakeup and Close can be ready together; Close wins.
		select {
		case <-w.stop:
			return
		default:
		}

		scene := w.take()
		if scene == nil {
			continue
		}

		result, err := Compile(scene, w.adapter, w.baker, w.opts...)
		if err != nil {
			if w.onError != nil {
				w.onError(err)
			}
			continue
		}
		w.current.Store(result)
	}
}

// take atomically consumes and clears the pending scene, implementing
// the drop-older-updates policy: a scene submitted while a compile was
// already running for an earlier wakeup is the one that survives.
func (w *Worker) take() *dsl.Scene {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.pending
	w.pending = nil
	return s
}
