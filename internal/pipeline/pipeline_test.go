package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/halyardsys/protogate/internal/keystore"
	"github.com/halyardsys/protogate/internal/message"
	"github.com/halyardsys/protogate/internal/protocol"
	"github.com/halyardsys/protogate/internal/router"
	"github.com/halyardsys/protogate/internal/rules"
	"github.com/halyardsys/protogate/internal/security"
	"github.com/halyardsys/protogate/internal/transformer"
)

func newTestPipeline(t *testing.T, rotate RotationFunc, period time.Duration) *Pipeline {
	t.Helper()
	store, err := keystore.Open("")
	if err != nil {
		t.Fatalf("keystore.Open: %v", err)
	}
	if err := store.GenerateEncryption("k1", "test", nil); err != nil {
		t.Fatalf("GenerateEncryption: %v", err)
	}
	if err := store.GenerateKeypair("k1", "test", nil); err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	r, err := router.New([]rules.Rule{
		{Name: "default", Source: protocol.LegacyBus, Priority: 1, SecurityMode: security.Encrypted},
	})
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}

	return New(Config{
		Router:         r,
		Transformer:    transformer.NewRegistry(),
		Security:       security.New(store),
		DefaultKeyID:   "k1",
		QueueSize:      4,
		RotationPeriod: period,
		Rotate:         rotate,
	})
}

func TestPipelineLifecycleAndProcessMessage(t *testing.T) {
	p := newTestPipeline(t, nil, 0)
	if p.State() != Initialized {
		t.Fatalf("expected Initialized, got %s", p.State())
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.State() != Running {
		t.Fatalf("expected Running, got %s", p.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msg := message.Common{SourceProtocol: protocol.LegacyBus, Payload: []byte("payload")}
	result, err := p.ProcessMessage(ctx, msg)
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if result.Target != protocol.IpFramed {
		t.Fatalf("expected default target ip_framed, got %s", result.Target)
	}
	if result.Secured == nil {
		t.Fatal("expected a secured payload")
	}

	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if p.State() != Stopped {
		t.Fatalf("expected Stopped, got %s", p.State())
	}
}

func TestPipelineRejectsProcessBeforeStart(t *testing.T) {
	p := newTestPipeline(t, nil, 0)
	ctx := context.Background()
	if _, err := p.ProcessMessage(ctx, message.Common{SourceProtocol: protocol.LegacyBus}); err == nil {
		t.Fatal("expected ProcessMessage before Start to fail")
	}
}

func TestPipelineProcessesEveryConcurrentSubmission(t *testing.T) {
	p := newTestPipeline(t, nil, 0)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	const n = 20
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := message.Common{
				SourceProtocol: protocol.LegacyBus,
				Payload:        []byte{byte(i)},
				Metadata:       message.Metadata{MessageID: uint64(i)},
			}
			r, err := p.ProcessMessage(ctx, msg)
			if err != nil {
				t.Errorf("ProcessMessage(%d): %v", i, err)
				return
			}
			results[i] = r
		}(i)
	}
	wg.Wait()

	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for i := 0; i < n; i++ {
		if results[i].Secured == nil {
			t.Fatalf("message %d never processed", i)
		}
	}
	if got := p.Stats().Processed; got != n {
		t.Fatalf("expected %d processed, got %d", n, got)
	}
}

func TestPipelineRotationSchedulerFires(t *testing.T) {
	var count int
	var mu sync.Mutex
	p := newTestPipeline(t, func() error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}, 20*time.Millisecond)

	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	mu.Lock()
	got := count
	mu.Unlock()
	if got == 0 {
		t.Fatal("expected the rotation scheduler to have fired at least once")
	}
	if p.Stats().Rotations == 0 {
		t.Fatal("expected Stats().Rotations to be nonzero")
	}
}

func TestPipelineNoRouteSurfacesAsError(t *testing.T) {
	p := newTestPipeline(t, nil, 0)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msg := message.Common{SourceProtocol: protocol.IpFramed, Payload: []byte("x")}
	if _, err := p.ProcessMessage(ctx, msg); err == nil {
		t.Fatal("expected a no-route error for a protocol with no configured rule")
	}

	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
