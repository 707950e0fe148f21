package controller

import (
	"context"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/lbeltrame/go_lingo/internal/cache"
	"github.com/lbeltrame/go_lingo/internal/coordinator"
	"github.com/lbeltrame/go_lingo/internal/repository"
	"github.com/lbeltrame/go_lingo/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestService builds a facade over the in-memory backend, pre-seeded with
// one "app" collection.
func newTestService(t *testing.T) *service.LangService {
	t.Helper()

	repo := repository.NewMemoryRepository()
	store := cache.NewStore(cache.Options{})
	coord := coordinator.New(repo, store, coordinator.NewRegistry(), coordinator.Options{
		SupportedLanguages: []string{"en", "it"},
	})
	svc := service.New(repo, store, coord, service.Options{
		DefaultLanguage:    "en",
		SupportedLanguages: []string{"en", "it"},
	})

	ctx := context.Background()
	if err := svc.CreateCollection(ctx, "app", []string{"en", "it"}); err != nil {
		t.Fatalf("seed collection: %v", err)
	}
	if err := svc.SetConfig(ctx, "app", "limit", 10); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	if err := svc.SetMessage(ctx, "app", "en", "greeting", "Hello {name}"); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	if err := svc.SetMessage(ctx, "app", "en", "gui.title", "My App"); err != nil {
		t.Fatalf("seed nested message: %v", err)
	}
	return svc
}
