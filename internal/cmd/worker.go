package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/expensebridge/internal/expense"
)

var (
	workerDataDir string
	workerNoWatch bool
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the expense tracker on stdin/stdout",
	Long: `Run the line-oriented expense tracker. The server spawns one worker per
session; it can also be run directly in a terminal.

Commands:
  add <amount> <category> <description>
  view [category]
  delete <index>
  generate
  exit`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().StringVar(&workerDataDir, "data-dir", "static", "directory holding expenses.json and report.yaml")
	workerCmd.Flags().BoolVar(&workerNoWatch, "no-watch", false, "do not reload when another process rewrites the data file")
}

func runWorker(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	return expense.Run(cmd.Context(), in, cmd.OutOrStdout(), expense.Options{
		DataDir: workerDataDir,
		Prompt:  isTerminal(in),
		Watch:   !workerNoWatch,
	})
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
