package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"PatternDesk/internal/domain/models"
	drepo "PatternDesk/internal/domain/repository"
	mid "PatternDesk/internal/middleware"
	applogger "PatternDesk/pkg/logger"
)

// StreamCollector pumps trades from a market stream through the realtime
// pipeline into the candle aggregator backing the stream candle source.
type StreamCollector struct {
	stream  drepo.MarketStream
	pipe    *mid.RealtimePipeline
	metrics drepo.Metrics
	l       *applogger.Logger

	// maxReconnect bounds the total time spent reconnecting after a stream error.
	maxReconnect time.Duration
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewStreamCollector creates a collector. metrics may be nil.
func NewStreamCollector(stream drepo.MarketStream, pipe *mid.RealtimePipeline, metrics drepo.Metrics, l *applogger.Logger) *StreamCollector {
	if l == nil {
		l = applogger.Nop()
	}
	return &StreamCollector{stream: stream, pipe: pipe, metrics: metrics, l: l, maxReconnect: 5 * time.Minute}
}

// IsConnected returns true if the market stream is connected.
func (c *StreamCollector) IsConnected() bool { return c.stream.IsConnected() }

// Start connects, subscribes and consumes in the background until ctx ends.
func (c *StreamCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.pipe.Start(ctx)
	trCh, errCh := c.stream.Read(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consume(ctx, trCh, errCh)
	}()
	return nil
}

func (c *StreamCollector) consume(ctx context.Context, trCh <-chan *models.Trade, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			c.recordError("stream")
			c.l.Warn("market stream error", applogger.Error(err))
			if err := c.reconnect(ctx); err != nil {
				c.l.Error("market stream reconnect gave up", applogger.Error(err))
				return
			}
			trCh, errCh = c.stream.Read(ctx)
		case t, ok := <-trCh:
			if !ok {
				trCh = nil
				continue
			}
			if t == nil {
				continue
			}
			if err := c.pipe.Process(ctx, t); err != nil {
				c.l.Debug("trade rejected", applogger.String("symbol", string(t.Symbol)), applogger.Error(err))
				continue
			}
			if c.metrics != nil {
				c.metrics.RecordLastPrice(string(t.Symbol), t.Price)
			}
		}
	}
}

func (c *StreamCollector) reconnect(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = c.maxReconnect
	op := func() error {
		if err := c.stream.Reconnect(ctx); err != nil {
			return err
		}
		return c.stream.Subscribe(ctx)
	}
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		c.l.Warn("market stream reconnect failed", applogger.Error(err), applogger.Duration("retry_in", wait))
	})
}

func (c *StreamCollector) recordError(kind string) {
	if c.metrics != nil {
		c.metrics.RecordError(kind)
	}
}

// Shutdown stops the pipeline, closes the stream and waits for the consumer.
func (c *StreamCollector) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.pipe.Stop()
	err := c.stream.Close()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
