package persist

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Saver is the one method the pipeline needs from lifecycle.Manager; kept
// as a narrow interface so the pipeline can be tested against a fake.
type Saver interface {
	SaveAll(ctx context.Context) error
}

// Pipeline runs Saver.SaveAll on a fixed interval, in its own goroutine,
// independent of the request hot path: it batches and schedules backend
// writes on its own cadence, decoupled from the commit/rollback latency
// of any single request.
type Pipeline struct {
	saver    Saver
	interval time.Duration
	log      zerolog.Logger
	onErr    func(error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Pipeline that will call saver.SaveAll every interval once
// Start is invoked. onErr, if non-nil, is called with each sweep's error
// (already logged regardless).
func New(saver Saver, interval time.Duration, log zerolog.Logger, onErr func(error)) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		saver:    saver,
		interval: interval,
		log:      log.With().Str("component", "persist").Logger(),
		onErr:    onErr,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the sweep loop in a background goroutine.
func (p *Pipeline) Start() {
	p.wg.Add(1)
	go p.loop()
}

// Stop cancels the sweep loop and waits for the in-flight sweep, if any,
// to finish.
func (p *Pipeline) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pipeline) loop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pipeline) sweep() {
	start := time.Now()
	err := p.saver.SaveAll(p.ctx)
	p.log.Debug().Dur("elapsed", time.Since(start)).Err(err).Msg("persistence sweep complete")
	if err != nil && p.onErr != nil {
		p.onErr(err)
	}
}
