// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Command patchbot-migrate applies the store's schema migrations against
// DATABASE_URL and exits. The store is treated as rebuildable rather than
// one preserving state across incompatible schema changes.
package main

import (
	"os"

	"github.com/google/lkml-patchbot/internal/app"
	"github.com/google/lkml-patchbot/internal/store"
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		app.Fatalf("DATABASE_URL is required")
	}
	db, err := store.Open(dsn)
	if err != nil {
		app.Fatalf("migration failed: %v", err)
	}
	defer db.Close()
}
