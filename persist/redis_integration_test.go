//go:build integration

package persist

import (
	"context"
	"os"
	"testing"
	"time"
)

// Run with: ATS_REDIS_URL=redis://localhost:6379/0 go test -tags integration ./persist/
func TestRedis(t *testing.T) {
	url := os.Getenv("ATS_REDIS_URL")
	if url == "" {
		t.Skip("ATS_REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := DialRedis(ctx, url, WithPrefix("ats-test:"), WithTTL(time.Minute))
	if err != nil {
		t.Fatalf("DialRedis() error: %v", err)
	}
	defer r.Close()

	exercise(t, r)
}
