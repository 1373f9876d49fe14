package services_test

import (
	"context"
	"testing"

	"tafkit/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithFetchID(ctx, "url-1")
	ctx = services.WithQueueID(ctx, "q-7")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.FetchIDFromContext(ctx); !ok || id != "url-1" {
		t.Fatalf("unexpected fetch id: %v %v", id, ok)
	}
	if id, ok := services.QueueIDFromContext(ctx); !ok || id != "q-7" {
		t.Fatalf("unexpected queue id: %v %v", id, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithQueueID(ctx, "")
	if _, ok := services.QueueIDFromContext(ctx); ok {
		t.Fatal("expected no queue id value")
	}
}
