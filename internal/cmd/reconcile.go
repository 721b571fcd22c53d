package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/nextdhcp/omapi-sync/core/reservation"
	"github.com/nextdhcp/omapi-sync/pkg/omapi"
	"github.com/spf13/cobra"
)

func newReconcileCmd(g *globals) *cobra.Command {
	var hostname, ip, mac string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Make sure the server holds a reservation for a host",
		Long: `Make sure the server holds a reservation for the given hostname, IP and MAC
address. Use 0.0.0.0 as IP address to only remove the reservation of the MAC
address.

Exit codes:
  0  the reservation was created or removed
  1  the reconciliation failed
  2  nothing had to be done`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := g.load(cmd)
			if err != nil {
				return inputError(err)
			}

			req, err := srv.Request(hostname, ip, mac)
			if err != nil {
				return inputError(err)
			}

			opts, err := srv.EngineOptions()
			if err != nil {
				return err
			}

			rt := omapi.Initialize()
			defer rt.Shutdown()

			outcome, err := reservation.New(rt, opts...).Reconcile(context.Background(), req)
			if err != nil {
				return &exitError{code: ExitError, err: err}
			}

			fmt.Fprintln(cmd.OutOrStdout(), outcome)
			if outcome == reservation.NoOp {
				return &exitError{code: ExitNoOp}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&hostname, "hostname", "", "Hostname of the reservation")
	flags.StringVar(&ip, "ip", "", "IPv4 address of the reservation")
	flags.StringVar(&mac, "mac", "", "MAC address of the reservation")

	return cmd
}

// inputError makes missing or invalid request fields exit with ExitNoOp
func inputError(err error) error {
	var ie *reservation.InputError
	if errors.As(err, &ie) {
		return &exitError{code: ExitNoOp, err: err}
	}
	return err
}
