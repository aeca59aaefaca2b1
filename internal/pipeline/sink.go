package pipeline

import (
	"context"
	"errors"

	"github.com/noisemap/noisemap/internal/propagation"
	"go.uber.org/zap"
)

// Sink stores cell results. Write is only ever called from the consumer
// goroutine.
type Sink interface {
	Write(ctx context.Context, r propagation.CellResult) error
	Close() error
}

// MultiSink writes every result to each of its sinks in order.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, r propagation.CellResult) error {
	for _, s := range m {
		if err := s.Write(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Consume drains results into sink until the channel is closed. After the
// first sink error it calls abort, keeps draining so that producers never
// block, and returns that error.
func Consume(ctx context.Context, results <-chan propagation.CellResult, sink Sink, abort func(), log *zap.Logger) error {
	var first error
	records := 0
	for r := range results {
		if first != nil {
			continue
		}
		if err := sink.Write(ctx, r); err != nil {
			first = err
			log.Error("result sink failed, aborting run", zap.Int("cell", r.CellID), zap.Error(err))
			if abort != nil {
				abort()
			}
			continue
		}
		records += r.Len()
	}
	log.Debug("consumer drained", zap.Int("records", records))
	return first
}
