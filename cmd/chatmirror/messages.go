package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatmirror/chatmirror/pkg/dialogkey"
)

func newMessagesCommand() *cobra.Command {
	var (
		limit    int
		beforeID int64
	)

	cmd := &cobra.Command{
		Use:   "messages <dialog-id>",
		Short: "Show cached messages for a dialog (e.g. 100 or 100:7)",
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

			page, err := cache.Messages(cmd.Context(), dialogkey.Key(args[0]), limit, beforeID)
			if err != nil {
				return err
			}
			for _, m := range page {
				sender := m.SenderName
				if m.IsOutgoing {
					sender = "me"
				}
				edited := ""
				if m.EditTimeUnix > 0 {
					edited = " (edited)"
				}
				fmt.Printf("[%s] %8d %s: %s%s\n",
					time.Unix(m.TimeUnix, 0).Format("15:04:05"),
					m.RemoteMessageID, sender, m.Text, edited)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "messages per page")
	cmd.Flags().Int64Var(&beforeID, "before", 0, "page backwards from this message id")
	return cmd
}
