package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chatmirror/chatmirror/pkg/eventbus"
	"github.com/chatmirror/chatmirror/pkg/mirror"
	"github.com/chatmirror/chatmirror/pkg/remote"
)

// newReplayCommand feeds a captured event stream (one JSON event per line)
// through the full ingest pipeline: store writes, hot-cache invalidation,
// normalized republish. Useful for rebuilding a cache from a capture and
// for exercising downstream event consumers without a backend session.
func newReplayCommand() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "replay <events.jsonl>",
		Short: "Replay a captured event stream through the ingest pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			cache, err := openCache(cfg, store, offlineFetcher{})
			if err != nil {
				return err
			}

			bus, err := eventbus.Build(cfg.EventBus)
			if err != nil {
				return err
			}
			defer func() { _ = bus.Close() }()

			ingestor, err := mirror.NewIngestor(mirror.IngestorConfig{
				Cache:        cache,
				Publisher:    bus.Publisher,
				PublishTopic: cfg.EventTopic,
			})
			if err != nil {
				return err
			}

			applied := 0
			if !quiet {
				cancel := ingestor.Subscribe(func(ev mirror.Event) {
					fmt.Printf("%-16s %s\n", ev.Kind, ev.DialogID)
				})
				defer cancel()
			}

			file, err := os.Open(args[0])
			if err != nil {
				return errors.Wrap(err, "open event capture")
			}
			defer func() { _ = file.Close() }()

			ctx := cmd.Context()
			events := make(chan remote.Event, 64)

			eg, egCtx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				return ingestor.Run(egCtx, events)
			})
			eg.Go(func() error {
				defer close(events)
				scanner := bufio.NewScanner(file)
				scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
				line := 0
				for scanner.Scan() {
					line++
					if len(scanner.Bytes()) == 0 {
						continue
					}
					var ev remote.Event
					if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
						return errors.Wrapf(err, "parse event at line %d", line)
					}
					applied++
					select {
					case events <- ev:
					case <-egCtx.Done():
						return egCtx.Err()
					}
				}
				return scanner.Err()
			})
			if err := eg.Wait(); err != nil {
				return err
			}

			log.Info().Int("events", applied).Msg("replay complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&quiet, "quiet", false, "do not print normalized events")
	return cmd
}
