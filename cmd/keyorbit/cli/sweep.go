package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/service"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark expired tokens in a single pass",
		Long:  "Run one expiry sweep over the token store, marking active tokens whose expiry has passed. The server runs this on an interval; the command exists for cron setups and maintenance.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep()
		},
	}

	return cmd
}

func runSweep() error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	defer st.Close()

	sweeper := service.NewSweeper(st, 0, discardLogger())
	n, err := sweeper.RunOnce(context.Background())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	fmt.Printf("Marked %d token(s) expired\n", n)
	return nil
}
