package disturb

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// BenchmarkLocalRunner_Workflow measures a full ten-step workflow through the
// in-memory broker and store.
func BenchmarkLocalRunner_Workflow(b *testing.B) {
	flow := New("bench")
	for i := 0; i < 10; i++ {
		flow = flow.Step(fmt.Sprintf("s%02d", i), EchoStep())
	}
	def, registry := flow.MustBuild()

	runner, err := NewLocalRunner(def, registry)
	if err != nil {
		b.Fatalf("NewLocalRunner failed: %v", err)
	}
	defer runner.Close()

	ctx := context.Background()
	if err := runner.StartWorkers(ctx, 1); err != nil {
		b.Fatalf("StartWorkers failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := fmt.Sprintf("run-%d", i)
		if err := runner.StartWorkflow(ctx, id, Payload{"i": i}); err != nil {
			b.Fatalf("StartWorkflow failed: %v", err)
		}
		waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		wc, err := runner.Wait(waitCtx, id)
		cancel()
		if err != nil {
			b.Fatalf("Wait failed: %v", err)
		}
		if wc.Status != StatusFinished {
			b.Fatalf("unexpected status %v", wc.Status)
		}
	}
}
