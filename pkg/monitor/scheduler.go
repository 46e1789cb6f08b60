package monitor

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/username/sidekick/pkg/core"
	"github.com/username/sidekick/pkg/metrics"
	"github.com/username/sidekick/pkg/spi"
	"github.com/username/sidekick/pkg/validator"
)

var log = logrus.WithField("prefix", "monitor")

// OutcomeHandler observes every checkpoint outcome before the scheduler acts on it
type OutcomeHandler func(ctx context.Context, outcome core.Outcome) error

// Scheduler drives the checkpoint polling loop. On each iteration it either
// waits for the next boundary, or validates the boundary and then records it
// or rewinds the chain. Only one iteration is ever in flight.
type Scheduler struct {
	cfg        core.CheckpointConfig
	reader     spi.ChainReader
	oracle     spi.OracleClient
	controller spi.ChainController
	sink       spi.CheckpointSink
	validator  spi.Validator

	// next is the boundary the last wait was aimed at, zero when none
	next uint64

	onOutcome OutcomeHandler
}

// NewScheduler creates a Scheduler. A nil validator selects the contract validator.
func NewScheduler(cfg core.CheckpointConfig, reader spi.ChainReader, oracle spi.OracleClient, controller spi.ChainController, sink spi.CheckpointSink, v spi.Validator) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reader == nil || oracle == nil || controller == nil {
		return nil, errors.Wrap(core.ErrConfig, "reader, oracle and controller are required")
	}
	if v == nil {
		v = validator.New(nil)
	}
	return &Scheduler{
		cfg:        cfg,
		reader:     reader,
		oracle:     oracle,
		controller: controller,
		sink:       sink,
		validator:  v,
	}, nil
}

// OnOutcome registers the outcome observer
func (s *Scheduler) OnOutcome(h OutcomeHandler) {
	s.onOutcome = h
}

// SetValidator swaps the validator. A nil validator restores the contract validator.
func (s *Scheduler) SetValidator(v spi.Validator) {
	if v == nil {
		v = validator.New(nil)
	}
	s.validator = v
}

// Run loops until ctx is cancelled or a fatal condition occurs. Cancellation
// is observed between iterations and while waiting for blocks.
func (s *Scheduler) Run(ctx context.Context) error {
	log.WithFields(logrus.Fields{
		"interval": s.cfg.Interval,
		"target":   s.cfg.OracleTarget.Hex(),
	}).Info("Starting checkpoint scheduler")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := s.Step(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}
	}
}

// Step performs exactly one iteration: wait, validate-and-succeed or
// validate-and-fail. It returns the outcome when a boundary was evaluated.
func (s *Scheduler) Step(ctx context.Context) (core.Outcome, error) {
	height, err := s.reader.HeadHeight(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not read head height")
	}
	metrics.HeadHeight.Set(float64(height))

	checkpoint := height
	switch {
	case s.next != 0 && height >= s.next:
		// the head moved past the boundary we waited for; reads are pinned by height
		checkpoint = s.next
		if height > checkpoint {
			log.WithFields(logrus.Fields{
				"height":     height,
				"checkpoint": checkpoint,
			}).Info("Head passed checkpoint while waiting")
		}
	case !s.cfg.IsBoundary(height):
		distance := s.cfg.Distance(height)
		s.next = height + distance
		log.WithFields(logrus.Fields{
			"height":   height,
			"distance": distance,
		}).Debug("Waiting for next checkpoint")
		return nil, s.wait(ctx, distance)
	}
	s.next = 0

	// validation, emission and remediation complete even if shutdown is requested
	return s.checkpoint(context.WithoutCancel(ctx), ctx, checkpoint)
}

func (s *Scheduler) checkpoint(ctx, waitCtx context.Context, height uint64) (core.Outcome, error) {
	start := time.Now()
	attested, err := s.validator.Validate(ctx, height, s.reader, s.oracle, s.cfg)
	metrics.ValidationLatency.Observe(time.Since(start).Seconds())

	if errors.Is(err, core.ErrDataUnavailable) {
		if !s.cfg.SkipMissingHistory {
			return nil, errors.Wrapf(err, "cannot validate checkpoint %d", height)
		}
		log.WithError(err).WithField("height", height).Warn("Skipping checkpoint without enough history")
		metrics.CheckpointsSkipped.Inc()
		s.next = height + s.cfg.Interval
		return nil, s.wait(waitCtx, s.cfg.Interval)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not validate checkpoint %d", height)
	}

	if attested {
		return s.succeed(ctx, waitCtx, height)
	}
	return s.fail(ctx, height)
}

func (s *Scheduler) succeed(ctx, waitCtx context.Context, height uint64) (core.Outcome, error) {
	ref, err := s.reader.BlockAt(ctx, height)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read checkpoint block %d", height)
	}
	outcome := core.Success{Checkpoint: ref}

	log.WithFields(logrus.Fields{
		"height": ref.Height,
		"hash":   ref.Hash.Hex(),
	}).Info("Checkpoint attested")
	metrics.CheckpointsAttested.Inc()
	metrics.LastCheckpoint.Set(float64(ref.Height))

	s.emit(ctx, outcome)
	if s.sink != nil {
		if err := s.sink.Record(ctx, ref); err != nil {
			metrics.SinkErrors.Inc()
			log.WithError(err).WithField("height", ref.Height).Error("Failed to record checkpoint")
		}
	}

	s.next = height + s.cfg.Interval
	return outcome, s.wait(waitCtx, s.cfg.Interval)
}

func (s *Scheduler) fail(ctx context.Context, height uint64) (core.Outcome, error) {
	outcome := core.Failure{
		AttemptedHeight: height,
		RollbackTarget:  height - s.cfg.Interval,
	}

	log.WithFields(logrus.Fields{
		"height": outcome.AttemptedHeight,
		"target": outcome.RollbackTarget,
	}).Warn("Checkpoint not attested, rewinding chain head")
	metrics.CheckpointsRejected.Inc()

	s.emit(ctx, outcome)

	if err := s.controller.RewindTo(ctx, outcome.RollbackTarget); err != nil {
		return outcome, errors.Wrapf(err, "could not rewind to %d", outcome.RollbackTarget)
	}
	metrics.Rewinds.Inc()

	if r, ok := s.sink.(spi.Rewinder); ok {
		if err := r.Rewind(ctx, outcome.RollbackTarget); err != nil {
			metrics.SinkErrors.Inc()
			log.WithError(err).WithField("target", outcome.RollbackTarget).Error("Failed to rewind checkpoint records")
		}
	}
	return outcome, nil
}

func (s *Scheduler) emit(ctx context.Context, outcome core.Outcome) {
	if s.onOutcome == nil {
		return
	}
	if err := s.onOutcome(ctx, outcome); err != nil {
		log.WithError(err).WithField("height", outcome.Height()).Error("Outcome handler failed")
	}
}

func (s *Scheduler) wait(ctx context.Context, n uint64) error {
	if err := s.controller.WaitBlocks(ctx, n); err != nil {
		return errors.Wrapf(err, "could not wait for %d blocks", n)
	}
	return nil
}
