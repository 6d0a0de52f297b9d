package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/matrix-magiq/qvalidator/logger"
)

var log = logger.CreateForPackage()

type (
	// Producer advances the block height at fixed interval. It stands in for
	// the block production of the hosting ledger.
	Producer struct {
		counter  *Counter
		interval time.Duration
		onBlock  func(height uint64)
	}

	ProducerOption func(*Producer)
)

// WithOnBlock sets the callback called with every new block height.
func WithOnBlock(fn func(height uint64)) ProducerOption {
	return func(p *Producer) {
		p.onBlock = fn
	}
}

func NewProducer(counter *Counter, interval time.Duration, opts ...ProducerOption) (*Producer, error) {
	if counter == nil {
		return nil, errors.New("block height counter is nil")
	}
	if interval <= 0 {
		return nil, errors.New("block interval must be positive")
	}
	p := &Producer{counter: counter, interval: interval}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run produces blocks until ctx is cancelled.
func (p *Producer) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	log.Info("producing blocks every %s, starting from height %d", p.interval, p.counter.Height())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			height, err := p.counter.Advance()
			if err != nil {
				return err
			}
			log.Trace("block %d", height)
			if p.onBlock != nil {
				p.onBlock(height)
			}
		}
	}
}
