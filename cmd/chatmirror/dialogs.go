package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatmirror/chatmirror/pkg/dialogstore"
)

func newDialogsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "dialogs",
		Short: "List cached dialogs, newest activity first",
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

			dialogs, err := cache.Dialogs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, d := range dialogs {
				printDialog(d)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum dialogs to list")
	return cmd
}

func printDialog(d dialogstore.DialogRecord) {
	marker := " "
	if d.UnreadCount > 0 {
		marker = fmt.Sprintf("%d", d.UnreadCount)
	}
	when := ""
	if d.LastMessageTimeUnix > 0 {
		when = time.Unix(d.LastMessageTimeUnix, 0).Format("2006-01-02 15:04")
	}
	direction := " "
	if d.LastMessageOutgoing {
		direction = ">"
	}
	fmt.Printf("%-14s %-3s %-30s %s %s %s\n",
		d.ID, marker, d.DisplayName, when, direction, d.LastMessagePreview)
}
