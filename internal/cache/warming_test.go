package cache

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockDatasetFetcher struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]error
}

func (m *mockDatasetFetcher) WarmDataset(ctx context.Context, name string) error {
	m.mu.Lock()
	m.calls = append(m.calls, name)
	m.mu.Unlock()
	return m.failOn[name]
}

func (m *mockDatasetFetcher) called() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]string(nil), m.calls...)
	sort.Strings(out)
	return out
}

func TestCacheWarmer_Warm_Success(t *testing.T) {
	fetcher := &mockDatasetFetcher{}
	warmer := NewCacheWarmer(fetcher, nil)

	if err := warmer.Warm(context.Background(), []string{"emissiezones", "drips"}); err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
	got := fetcher.called()
	if len(got) != 2 || got[0] != "drips" || got[1] != "emissiezones" {
		t.Errorf("fetched %v, want [drips emissiezones]", got)
	}
}

func TestCacheWarmer_Warm_EmptyDatasets(t *testing.T) {
	fetcher := &mockDatasetFetcher{}
	warmer := NewCacheWarmer(fetcher, nil)

	if err := warmer.Warm(context.Background(), nil); err != nil {
		t.Fatalf("Warm() with nil datasets error = %v, want nil", err)
	}
	if len(fetcher.called()) != 0 {
		t.Error("Warm() with no datasets should not fetch")
	}
}

func TestCacheWarmer_Warm_FetcherError(t *testing.T) {
	boom := errors.New("upstream down")
	fetcher := &mockDatasetFetcher{failOn: map[string]error{"drips": boom}}
	warmer := NewCacheWarmer(fetcher, nil)

	err := warmer.Warm(context.Background(), []string{"drips", "emissiezones"})
	if err == nil {
		t.Fatal("Warm() error = nil, want non-nil")
	}
	if !errors.Is(err, boom) {
		t.Errorf("Warm() error = %v, want wrapping %v", err, boom)
	}
	if !strings.Contains(err.Error(), "warm drips") {
		t.Errorf("Warm() error = %q, want dataset name", err)
	}
}

func TestCacheWarmer_WarmPeriodic_StopsOnCancel(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	fetcher := &mockDatasetFetcher{failOn: map[string]error{"drips": errors.New("down")}}
	warmer := NewCacheWarmer(fetcher, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- warmer.WarmPeriodic(ctx, []string{"drips"}, time.Hour) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(fetcher.called()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("WarmPeriodic() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WarmPeriodic() did not return after cancel")
	}
	if logs.FilterMessage("initial cache warm failed").Len() != 1 {
		t.Error("expected initial warm failure to be logged")
	}
}
