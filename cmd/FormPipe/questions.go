package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/FormPipe/internal/catalog"
)

func newQuestionsCmd(config *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "questions [catalog]",
		Short: "Print the question catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.CatalogPath
			if len(args) > 0 {
				path = args[0]
			}
			cat, err := catalog.Load(path)
			if err != nil {
				return err
			}
			printQuestions(cmd.OutOrStdout(), cat)
			return nil
		},
	}
}

func printQuestions(w io.Writer, cat *catalog.Catalog) {
	fmt.Fprintf(w, "Loaded %d questions\n\n", cat.Len())
	for i, q := range cat.Questions() {
		fmt.Fprintf(w, "Question %d: %s\n", i+1, q.ID)
		fmt.Fprintf(w, "Type: %s\n", q.Kind.Name())
		fmt.Fprintf(w, "Question: %s\n", q.Prompt)
		if q.Dynamic != nil {
			fmt.Fprintf(w, "Options depend on: %s\n", q.Dynamic.DependsOn)
		}
		if opts := q.StaticOptions(); len(opts) > 0 {
			fmt.Fprintln(w, "Options:")
			for j, o := range opts {
				fmt.Fprintf(w, "  %d. %s\n", j+1, o)
			}
		}
		if len(q.Disqualifying) > 0 {
			fmt.Fprintf(w, "Disqualifying: %s\n", strings.Join(q.Disqualifying, ", "))
		}
		fmt.Fprintln(w, "\n"+strings.Repeat("-", 50)+"\n")
	}
}
