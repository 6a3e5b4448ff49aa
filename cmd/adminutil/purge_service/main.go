package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/sudo-init-do/meterhub/internal/config"
	"github.com/sudo-init-do/meterhub/internal/db"
	"github.com/sudo-init-do/meterhub/internal/marketplace"
)

// purge_service removes a service row for good. Only soft-deleted services
// are purged unless -force is given.
//
// It works on the store directly, so a server that is already running keeps
// the purged service in its cache and serves it from reads until restarted.
// Against a live deployment use DELETE /admin/services/:id/purge instead.
//
// Usage:
//
//	go run cmd/adminutil/purge_service/main.go -id <service-id>
func main() {
	id := flag.String("id", "", "ID of the service to purge")
	force := flag.Bool("force", false, "Purge even if the service is still live")
	flag.Parse()

	if *id == "" {
		log.Fatalf("usage: go run cmd/adminutil/purge_service/main.go -id <service-id> [-force]\n" +
			"running servers keep a cached copy until restart; prefer DELETE /admin/services/:id/purge")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx := context.Background()

	adapter, err := db.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer adapter.Close()
	if err := adapter.Initialize(ctx); err != nil {
		log.Fatalf("initialize store: %v", err)
	}

	repo := marketplace.NewRepository(adapter)
	svc, err := repo.Lookup(ctx, *id)
	if err != nil {
		log.Fatalf("no service found with id %s: %v", *id, err)
	}
	if svc.DeletedAt == nil && !*force {
		log.Fatalf("service %s is live; soft-delete it first or pass -force", *id)
	}

	if err := repo.Purge(ctx, *id); err != nil {
		log.Fatalf("failed to purge service: %v", err)
	}
	fmt.Printf("Service %s (%s) purged.\n", svc.Name, *id)
	fmt.Println("Restart running servers to drop their cached copy.")
}
