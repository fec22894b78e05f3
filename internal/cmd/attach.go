package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/expensebridge/internal/client"
	"github.com/Iron-Ham/expensebridge/internal/config"
)

var attachNoColor bool

var attachCmd = &cobra.Command{
	Use:   "attach [url]",
	Short: "Open a terminal session on a running server",
	Long: `Connect to a running expensebridge server and use the expense tracker from
the terminal. Each input line is sent as a command. The default URL is
localhost on the configured server port.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAttach,
}

func init() {
	rootCmd.AddCommand(attachCmd)

	attachCmd.Flags().BoolVar(&attachNoColor, "no-color", false, "disable highlighted output")
}

func runAttach(cmd *cobra.Command, args []string) error {
	target := fmt.Sprintf("localhost:%d", config.Get().Server.Port)
	if len(args) == 1 {
		target = args[0]
	}

	out := cmd.OutOrStdout()
	tty := isTerminal(out)
	width := 0
	if f, ok := out.(*os.File); ok && tty {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil {
			width = w
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return client.Attach(ctx, client.Options{
		URL:   target,
		In:    cmd.InOrStdin(),
		Out:   out,
		Color: tty && !attachNoColor,
		Width: width,
	})
}
