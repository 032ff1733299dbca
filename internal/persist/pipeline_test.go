package persist

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSaver struct {
	calls int32
	err   error
}

func (f *fakeSaver) SaveAll(ctx context.Context) error {
	atomic.AddInt32(&f.calls, 1)
	return f.err
}

func TestPipelineSweepsOnInterval(t *testing.T) {
	saver := &fakeSaver{}
	p := New(saver, 10*time.Millisecond, zerolog.Nop(), nil)
	p.Start()
	defer p.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&saver.calls) >= 3 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected at least 3 sweeps, got %d", atomic.LoadInt32(&saver.calls))
}

func TestPipelineStopWaitsForInFlightSweep(t *testing.T) {
	saver := &fakeSaver{}
	p := New(saver, 5*time.Millisecond, zerolog.Nop(), nil)
	p.Start()

	time.Sleep(20 * time.Millisecond)
	p.Stop()

	callsAtStop := atomic.LoadInt32(&saver.calls)
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&saver.calls) != callsAtStop {
		t.Fatal("expected no further sweeps after Stop")
	}
}

func TestPipelineReportsErrorsViaOnErr(t *testing.T) {
	wantErr := errors.New("some keys lost their lock")
	saver := &fakeSaver{err: wantErr}

	errCh := make(chan error, 1)
	p := New(saver, 5*time.Millisecond, zerolog.Nop(), func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})
	p.Start()
	defer p.Stop()

	select {
	case err := <-errCh:
		if !errors.Is(err, wantErr) {
			t.Fatalf("expected %v, got %v", wantErr, err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onErr callback")
	}
}
