package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bft-labs/lockstep/internal/domain"
	"github.com/bft-labs/lockstep/internal/mirror"
	"github.com/bft-labs/lockstep/internal/ports"
	"github.com/bft-labs/lockstep/internal/registry"
	"github.com/bft-labs/lockstep/internal/supervisor"
	"github.com/bft-labs/lockstep/pkg/log"
)

// Scheduler replays sessions of one service.
type Scheduler struct {
	svc  registry.ServiceConfig
	pred registry.Predicate
	opts options
}

// New creates a scheduler for svc using the compiled predicate pred.
func New(svc registry.ServiceConfig, pred registry.Predicate, opts ...Option) *Scheduler {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With(log.Service(svc.Name))
	return &Scheduler{svc: svc, pred: pred, opts: o}
}

// mirrored is a supervisor hosting the service behind mirrors.
type mirrored interface {
	Mirrors() *mirror.Set
}

// bused is a supervisor hosting the service behind the socket bus.
type bused interface {
	Bus() ports.BusTransport
}

// Run starts the service under sup, runs its initializer, replays sess and
// stops the service. Stop is called exactly once after a successful Start,
// whatever happens during the replay; a stop failure is returned only when
// the replay itself succeeded.
func (s *Scheduler) Run(ctx context.Context, sess *Session, sup supervisor.Supervisor) (err error) {
	ctx, span := s.opts.tracer.Start(ctx, "replay.Run",
		trace.WithAttributes(
			attribute.String("replay.service", s.svc.Name),
			attribute.String("replay.session", sess.ID),
			attribute.String("replay.transport", string(s.svc.Transport)),
			attribute.Int("replay.inputs", len(sess.Inputs())),
		),
	)
	defer span.End()

	logger := s.opts.logger.With(log.String("session", sess.ID))
	start := s.opts.clock.Now()
	s.opts.metrics.SessionStarted(s.svc.Name)

	defer func() {
		elapsed := s.opts.clock.Since(start)
		s.opts.metrics.SessionFinished(s.svc.Name, string(s.svc.Transport), elapsed, err)
		if errors.Is(err, domain.ErrHangTimeout) {
			s.opts.metrics.GateTimeout(s.svc.Name)
		}
		span.SetAttributes(attribute.Int("replay.outputs", len(sess.Outputs())))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("replay failed", log.Err(err), log.Duration("elapsed", elapsed))
			return
		}
		span.SetStatus(codes.Ok, "")
		logger.Info("replay finished",
			log.Int("inputs", len(sess.Inputs())),
			log.Int("outputs", len(sess.Outputs())),
			log.Duration("elapsed", elapsed),
		)
	}()

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start %s: %w", s.svc.Name, err)
	}
	defer func() {
		if stopErr := sup.Stop(); stopErr != nil {
			logger.Warn("stop failed", log.Err(stopErr))
			if err == nil {
				err = fmt.Errorf("stop %s: %w", s.svc.Name, stopErr)
			}
		}
	}()

	if err := sup.RunInitializer(ctx, sess.Messages()); err != nil {
		return fmt.Errorf("initialize %s: %w", s.svc.Name, err)
	}

	switch t := sup.(type) {
	case mirrored:
		return s.ReplayInProcess(ctx, sess, t.Mirrors())
	case bused:
		return s.ReplaySubprocess(ctx, sess, t.Bus())
	default:
		return fmt.Errorf("%w: %s: supervisor %T exposes no transport", domain.ErrConfigMismatch, s.svc.Name, sup)
	}
}

// ReplayInProcess drives a started in-process service through set.
//
// Each input is delivered in order: bus messages through the socket, others
// queued. When the policy says so the queue is pushed as one update and the
// expected outputs are drained before the next input is touched.
func (s *Scheduler) ReplayInProcess(ctx context.Context, sess *Session, set *mirror.Set) error {
	if err := s.waitReady(ctx, set); err != nil {
		return fmt.Errorf("wait for %s: %w", s.svc.Name, err)
	}

	inputs := sess.Inputs()
	var pending []domain.Message

	for i, msg := range inputs {
		d := s.pred(msg, sess.counters(set.Sub.Frame()))
		sess.advance(msg.Topic)

		if set.IsBus(msg.Topic) {
			if err := set.Bus.Send(ctx, msg); err != nil {
				return s.stepError(i, msg, "send", err)
			}
		} else {
			pending = append(pending, msg)
		}
		s.opts.metrics.InputDelivered(s.svc.Name)

		if d.Deliver {
			if err := s.step(ctx, sess, set, i, pending, d.Outputs); err != nil {
				return err
			}
			pending = nil
		}
		s.report(i+1, len(inputs))
	}
	return nil
}

func (s *Scheduler) step(ctx context.Context, sess *Session, set *mirror.Set, index int, pending []domain.Message, expected []string) error {
	msg := sess.inputs[index]
	ctx, span := s.opts.tracer.Start(ctx, "replay.step",
		trace.WithAttributes(
			attribute.Int("replay.index", index),
			attribute.String("replay.topic", msg.Topic),
			attribute.Int("replay.pending", len(pending)),
			attribute.StringSlice("replay.expected", expected),
		),
	)
	defer span.End()

	if err := set.Sub.UpdateWith(ctx, msg.MonoTime, pending); err != nil {
		span.RecordError(err)
		return s.stepError(index, msg, "update", err)
	}

	remaining := len(expected)
	for remaining > 0 {
		out, err := set.Pub.WaitForMessage(ctx)
		if err != nil {
			span.RecordError(err)
			return s.stepError(index, msg, "drain", err)
		}
		s.capture(sess, out, index)
		if lo.Contains(expected, out.Topic) {
			remaining--
		}
	}
	return nil
}

// waitReady blocks until the service waits for its first input.
func (s *Scheduler) waitReady(ctx context.Context, set *mirror.Set) error {
	if set.Bus != nil {
		return set.Bus.WaitForReceive(ctx)
	}
	return set.Sub.WaitForUpdate(ctx)
}

// ReplaySubprocess drives a started subprocess service over bus.
//
// Every input is published. When outputs are expected the scheduler waits
// the step settle delay and polls the bus; outputs on undeclared topics fail
// with domain.ErrUnexpectedTopic and expected topics that did not show up
// fail with *MissingOutputError. Outputs already waiting after an input that
// expects none are dropped, never attributed to a later input.
func (s *Scheduler) ReplaySubprocess(ctx context.Context, sess *Session, bus ports.BusTransport) error {
	declared := lo.SliceToMap(s.svc.OutputTopics(), func(t string) (string, bool) { return t, true })
	inputs := sess.Inputs()
	steps := 0

	for i, msg := range inputs {
		d := s.pred(msg, sess.counters(steps))
		sess.advance(msg.Topic)

		if err := bus.Publish(ctx, msg); err != nil {
			return s.stepError(i, msg, "publish", err)
		}
		s.opts.metrics.InputDelivered(s.svc.Name)

		if d.Expects() {
			steps++
			if err := s.sleep(ctx, s.opts.stepSettle); err != nil {
				return err
			}
			outs, err := bus.Poll(ctx, s.opts.pollWindow)
			if err != nil {
				return s.stepError(i, msg, "poll", err)
			}

			seen := make(map[string]bool, len(outs))
			for _, out := range outs {
				if !declared[out.Topic] {
					return s.stepError(i, msg, "poll", fmt.Errorf("%w: %q", domain.ErrUnexpectedTopic, out.Topic))
				}
				s.capture(sess, out, i)
				seen[out.Topic] = true
			}

			missing := lo.Filter(d.Outputs, func(t string, _ int) bool { return !seen[t] })
			if len(missing) > 0 {
				return &MissingOutputError{Index: i, Input: msg, Missing: missing}
			}
		} else if err := s.dropStray(ctx, i, msg, bus, declared); err != nil {
			return err
		}
		s.report(i+1, len(inputs))
	}
	return nil
}

// dropStray empties the bus inbox after an input that expects no output.
func (s *Scheduler) dropStray(ctx context.Context, index int, msg domain.Message, bus ports.BusTransport, declared map[string]bool) error {
	stray, err := bus.Poll(ctx, 0)
	if err != nil {
		return s.stepError(index, msg, "drain", err)
	}
	for _, out := range stray {
		if !declared[out.Topic] {
			return s.stepError(index, msg, "drain", fmt.Errorf("%w: %q", domain.ErrUnexpectedTopic, out.Topic))
		}
		s.opts.logger.Debug("dropping unexpected output",
			log.Topic(out.Topic),
			log.Int("input", index),
		)
	}
	return nil
}

func (s *Scheduler) capture(sess *Session, msg domain.Message, index int) {
	out := sess.record(msg, index)
	s.opts.metrics.OutputCaptured(s.svc.Name, out.Topic)
	s.opts.logger.Debug("output captured",
		log.Topic(out.Topic),
		log.Int("input", index),
		log.MonoTime(out.MonoTime),
	)
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := s.opts.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) report(done, total int) {
	if s.opts.progress != nil {
		s.opts.progress(done, total)
	}
}

func (s *Scheduler) stepError(index int, msg domain.Message, op string, err error) error {
	return fmt.Errorf("input %d (%s at %d): %s: %w", index, msg.Topic, msg.MonoTime, op, err)
}
