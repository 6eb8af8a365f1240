package services_test

import (
	"context"
	"testing"

	"github.com/coff33ninja/vrm-auto-scraper/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithSource(ctx, "sketchfab")
	ctx = services.WithItemID(ctx, "abc123")
	ctx = services.WithStage(ctx, "download")
	ctx = services.WithRequestID(ctx, "run-123")

	if source, ok := services.SourceFromContext(ctx); !ok || source != "sketchfab" {
		t.Fatalf("unexpected source: %v %v", source, ok)
	}
	if id, ok := services.ItemIDFromContext(ctx); !ok || id != "abc123" {
		t.Fatalf("unexpected item id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "download" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "run-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	ctx = services.WithItemID(ctx, "")
	if _, ok := services.ItemIDFromContext(ctx); ok {
		t.Fatal("expected no item id value")
	}
}
