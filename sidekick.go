package sidekick

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/username/sidekick/pkg/core"
	"github.com/username/sidekick/pkg/monitor"
	"github.com/username/sidekick/pkg/spi"
)

var log = logrus.WithField("prefix", "sidekick")

// ErrAlreadyRunning is returned when Run is called on a Watcher that is running
var ErrAlreadyRunning = errors.New("watcher is already running")

// CheckpointHandler observes an attested checkpoint before the watcher waits for the next one
type CheckpointHandler func(ctx context.Context, s core.Success) error

// RollbackHandler observes a rejected checkpoint before the chain is rewound
type RollbackHandler func(ctx context.Context, f core.Failure) error

// Watcher is the main entry point for the framework. It validates every
// checkpoint boundary of the local chain against the oracle and rewinds the
// chain when a checkpoint is not attested.
type Watcher struct {
	scheduler *monitor.Scheduler
	sink      spi.CheckpointSink

	onCheckpoint CheckpointHandler
	onRollback   RollbackHandler

	mu      sync.Mutex
	running atomic.Bool
}

// New creates a new Watcher instance. The sink may be nil.
func New(cfg core.CheckpointConfig, reader spi.ChainReader, oracle spi.OracleClient, controller spi.ChainController, sink spi.CheckpointSink) (*Watcher, error) {
	scheduler, err := monitor.NewScheduler(cfg, reader, oracle, controller, sink, nil)
	if err != nil {
		return nil, err
	}
	w := &Watcher{scheduler: scheduler, sink: sink}
	scheduler.OnOutcome(w.dispatch)
	return w, nil
}

// configure applies fn unless the watcher is running
func (w *Watcher) configure(fn func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running.Load() {
		return ErrAlreadyRunning
	}
	fn()
	return nil
}

// SetValidator replaces the contract validator. It must be called before Run
// and returns ErrAlreadyRunning otherwise.
func (w *Watcher) SetValidator(v spi.Validator) error {
	return w.configure(func() { w.scheduler.SetValidator(v) })
}

// OnCheckpoint registers a handler for attested checkpoints. It must be
// called before Run and returns ErrAlreadyRunning otherwise.
func (w *Watcher) OnCheckpoint(handler CheckpointHandler) error {
	return w.configure(func() { w.onCheckpoint = handler })
}

// OnRollback registers a handler for rejected checkpoints. It must be called
// before Run and returns ErrAlreadyRunning otherwise.
func (w *Watcher) OnRollback(handler RollbackHandler) error {
	return w.configure(func() { w.onRollback = handler })
}

func (w *Watcher) dispatch(ctx context.Context, outcome core.Outcome) error {
	switch o := outcome.(type) {
	case core.Success:
		if w.onCheckpoint != nil {
			return w.onCheckpoint(ctx, o)
		}
	case core.Failure:
		if w.onRollback != nil {
			return w.onRollback(ctx, o)
		}
	}
	return nil
}

// Run starts the checkpoint loop and blocks until ctx is cancelled or a
// fatal condition occurs. A Watcher runs at most once at a time.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	started := w.running.CompareAndSwap(false, true)
	w.mu.Unlock()
	if !started {
		return ErrAlreadyRunning
	}
	defer func() {
		w.mu.Lock()
		w.running.Store(false)
		w.mu.Unlock()
	}()

	if store, ok := w.sink.(spi.CheckpointStore); ok {
		last, err := store.Latest(ctx)
		switch {
		case err != nil:
			log.WithError(err).Warn("Could not read last recorded checkpoint")
		case last == nil:
			log.Info("No previous checkpoint recorded")
		default:
			log.WithFields(logrus.Fields{
				"height": last.Height,
				"hash":   last.Hash.Hex(),
			}).Info("Resuming after recorded checkpoint")
		}
	}

	return w.scheduler.Run(ctx)
}

// Run builds a Watcher from the collaborators and runs it until ctx is
// cancelled or a fatal condition occurs.
func Run(ctx context.Context, cfg core.CheckpointConfig, reader spi.ChainReader, oracle spi.OracleClient, controller spi.ChainController, sink spi.CheckpointSink) error {
	w, err := New(cfg, reader, oracle, controller, sink)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
