package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/illmade-knight/go-trailflow/pkg/sourceid"
)

func newClassifyCmd() *cobra.Command {
	var action string
	cmd := &cobra.Command{
		Use:   "classify <object-key>...",
		Short: "Print the source type and account of object keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classify(cmd.OutOrStdout(), action, args)
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "Event action to check, e.g. "+sourceid.CreateAction)
	return cmd
}

func classify(w io.Writer, action string, keys []string) {
	id := sourceid.NewIdentifier()
	for _, key := range keys {
		sourceType := id.Identify(key)
		if action != "" {
			sourceType = id.IdentifyWithAction(key, action)
		}
		account, ok := sourceid.ExtractAccountID(key)
		if !ok {
			account = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", sourceType, account, key)
	}
}
