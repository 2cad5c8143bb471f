package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PatternDesk/internal/domain/models"
	domrepo "PatternDesk/internal/domain/repository"
)

// Proc is the downstream consumer of accepted trades.
type Proc interface {
	Process(ctx context.Context, t *models.Trade) error
}

// RealtimePipeline sits between the market stream and the candle
// aggregator. It validates and throttles trades per symbol, and buffers
// them while downstream rejects writes.
type RealtimePipeline struct {
	proc     Proc
	metrics  domrepo.Metrics
	maxRPS   int
	bufSize  int
	bufCh    chan *models.Trade
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
	lastSeen map[models.Symbol]time.Time
	// optional normalization hook, e.g. price scaling
	transform func(*models.Trade) *models.Trade
	now       func() time.Time
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS sets the max trades per second per symbol. 0 disables throttling.
func WithMaxRPS(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the retry buffer used while downstream fails.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform sets a hook applied to every valid trade before throttling.
func WithTransform(fn func(*models.Trade) *models.Trade) PipelineOption {
	return func(p *RealtimePipeline) { p.transform = fn }
}

// WithPipelineClock replaces time.Now for throttling.
func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *RealtimePipeline) { p.now = now }
}

// NewRealtimePipeline creates a new pipeline.
func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		proc:     proc,
		metrics:  metrics,
		maxRPS:   20,
		bufSize:  1000,
		stopCh:   make(chan struct{}),
		lastSeen: make(map[models.Symbol]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Trade, p.bufSize)
	return p
}

// Start launches background flushing of buffered trades.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.flushLoop(ctx)
}

func (p *RealtimePipeline) flushLoop(ctx context.Context) {
	const minBackoff, maxBackoff = 50 * time.Millisecond, 2 * time.Second
	backoff := minBackoff
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case t := <-p.bufCh:
			if err := p.proc.Process(ctx, t); err == nil {
				backoff = minBackoff
				continue
			}
			p.recordError("pipeline_flush")
			select {
			case p.bufCh <- t:
			default:
				p.recordError("pipeline_buffer_drop")
			}
			select {
			case <-time.After(backoff):
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

// Stop stops the background flushing.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.stopCh)
}

// Buffered returns the number of trades waiting for retry.
func (p *RealtimePipeline) Buffered() int { return len(p.bufCh) }

// Process validates, throttles and forwards a trade, buffering on
// downstream errors. Throttled trades are dropped without error.
func (p *RealtimePipeline) Process(ctx context.Context, t *models.Trade) error {
	start := p.now()
	if err := validateTrade(t); err != nil {
		p.recordError("pipeline_validate")
		return err
	}
	if p.transform != nil {
		t = p.transform(t)
		if err := validateTrade(t); err != nil {
			p.recordError("pipeline_transform_invalid")
			return err
		}
	}
	if !p.allow(t.Symbol, start) {
		p.recordError("pipeline_throttle")
		return nil
	}

	if err := p.proc.Process(ctx, t); err != nil {
		p.recordError("pipeline_process")
		select {
		case p.bufCh <- t:
		default:
			p.recordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	if p.metrics != nil {
		p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	}
	return nil
}

func (p *RealtimePipeline) recordError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}

func validateTrade(t *models.Trade) error {
	if t == nil {
		return fmt.Errorf("trade nil")
	}
	if !models.IsValidSymbol(t.Symbol) {
		return fmt.Errorf("symbol %q not analysed", t.Symbol)
	}
	if t.Timestamp <= 0 {
		return fmt.Errorf("timestamp invalid")
	}
	if t.Price <= 0 || t.Volume < 0 {
		return fmt.Errorf("non-positive price or negative volume")
	}
	return nil
}

// allow admits at most maxRPS trades per second per symbol.
func (p *RealtimePipeline) allow(symbol models.Symbol, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last, seen := p.lastSeen[symbol]
	if seen && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[symbol] = now
	return true
}
