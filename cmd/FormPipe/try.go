package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/FormPipe/internal/bot"
	"github.com/BTreeMap/FormPipe/internal/catalog"
	"github.com/BTreeMap/FormPipe/internal/channel"
	"github.com/BTreeMap/FormPipe/internal/completion"
	"github.com/BTreeMap/FormPipe/internal/flow"
	"github.com/BTreeMap/FormPipe/internal/progress"
	"github.com/BTreeMap/FormPipe/internal/sink"
)

func newTryCmd(config *Config) *cobra.Command {
	var csvPath string
	cmd := &cobra.Command{
		Use:   "try [catalog]",
		Short: "Answer the questionnaire in the terminal",
		Long: `Walks through the catalog on standard input and output, one line per message.
Type /start to begin, an option number or text to answer, "back" to go back and "done" to confirm a multi-select question. Input ends the session at end of file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.CatalogPath
			if len(args) > 0 {
				path = args[0]
			}
			cat, err := catalog.Load(path)
			if err != nil {
				return fmt.Errorf("failed to load catalog: %w", err)
			}

			var s sink.Sink = sink.Discard{}
			if csvPath != "" {
				s = sink.NewLazy(sink.NewCSVSink(csvPath), completion.Header(cat))
			}

			console := channel.NewConsole(cmd.InOrStdin(), cmd.OutOrStdout())
			if err := console.Start(cmd.Context()); err != nil {
				return err
			}
			defer console.Stop()
			dispatcher := bot.NewDispatcher(flow.NewEngine(cat), progress.NewInMemoryStore(), s)
			return dispatcher.Run(cmd.Context(), console)
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "append completed submissions to this CSV file")
	return cmd
}
