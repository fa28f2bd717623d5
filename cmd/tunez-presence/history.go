package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tunez/presence/internal/config"
	"github.com/tunez/presence/internal/history"
)

func runHistory(ctx context.Context, w io.Writer, path string, n int) error {
	// A missing or invalid config still lets us read the default database.
	cfg, _, _ := config.Load(path)

	store, err := history.Open(historyPath(cfg))
	if err != nil {
		return err
	}
	defer closeQuietly(store)

	entries, err := store.Recent(ctx, n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "no statuses published yet")
		return nil
	}
	for _, e := range entries {
		text := e.Status
		if e.Cleared {
			text = "(cleared)"
		}
		fmt.Fprintf(w, "%s  %s\n", e.PublishedAt.Local().Format(time.DateTime), text)
	}
	return nil
}
