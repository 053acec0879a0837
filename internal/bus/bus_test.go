package bus

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Queue != "shard-events" {
		t.Fatalf("unexpected default queue: %q", cfg.Queue)
	}
	if cfg.PublishRetries != 5 {
		t.Fatalf("unexpected default publish retries: %d", cfg.PublishRetries)
	}
	if cfg.PrefetchCount != 50 {
		t.Fatalf("unexpected default prefetch count: %d", cfg.PrefetchCount)
	}
}
