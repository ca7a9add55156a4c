package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/quantfabric/feedbus/internal/bus"
)

// replay inspects a bus journal and optionally re-publishes its envelopes
// onto a distributed bus, e.g. to rebuild downstream state after an outage.
func main() {
	journalPath := flag.String("journal", "data/bus.jsonl", "path to journal file")
	prefix := flag.String("prefix", "", "topic prefix filter (empty matches all)")
	dump := flag.Bool("dump", false, "print matching envelopes to stdout")
	redisAddr := flag.String("redis", "", "re-publish matching envelopes to this redis address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	if *redisAddr != "" {
		if err := republish(*journalPath, *prefix, *redisAddr, logger); err != nil {
			fmt.Fprintln(os.Stderr, "replay failed:", err)
			os.Exit(1)
		}
		return
	}

	if err := inspect(*journalPath, *prefix, *dump, logger); err != nil {
		fmt.Fprintln(os.Stderr, "inspect failed:", err)
		os.Exit(1)
	}
}

// inspect summarizes the journal: envelope count per topic, time span,
// and optionally the envelopes themselves.
func inspect(path, prefix string, dump bool, logger *slog.Logger) error {
	topics := make(map[string]int)
	var first, last time.Time

	count, err := bus.ScanJournal(path, prefix, logger, func(env *bus.Envelope) error {
		topics[env.Topic]++
		if first.IsZero() || env.Timestamp.Before(first) {
			first = env.Timestamp
		}
		if env.Timestamp.After(last) {
			last = env.Timestamp
		}
		if dump {
			line, err := json.Marshal(env)
			if err != nil {
				return err
			}
			fmt.Println(string(line))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if dump {
		return nil
	}

	fmt.Printf("journal: %s\n", path)
	fmt.Printf("envelopes: %d\n", count)
	if count > 0 {
		fmt.Printf("span: %s .. %s\n",
			first.UTC().Format(time.RFC3339),
			last.UTC().Format(time.RFC3339),
		)
	}
	for topic, n := range topics {
		fmt.Printf("  %-30s %d\n", topic, n)
	}
	return nil
}

// republish streams the journal onto a distributed bus.
func republish(path, prefix, redisAddr string, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	b, err := bus.Open(bus.Config{
		Mode:  "distributed",
		Redis: bus.RedisConfig{Addr: redisAddr},
	}, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	count, err := bus.ScanJournal(path, prefix, logger, func(env *bus.Envelope) error {
		return b.Publish(ctx, env)
	})
	if err != nil {
		return err
	}

	fmt.Printf("re-published %d envelopes to %s\n", count, redisAddr)
	return nil
}
