package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/nextdhcp/omapi-sync/pkg/omapi"
	"github.com/spf13/cobra"
)

func newLookupCmd(g *globals) *cobra.Command {
	var hostname, mac string

	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Print the host object stored for a MAC address or hostname",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (hostname == "") == (mac == "") {
				return errors.New("exactly one of --mac and --hostname is required")
			}

			srv, err := g.load(cmd)
			if err != nil {
				return err
			}

			key, err := srv.Key()
			if err != nil {
				return err
			}

			var hw net.HardwareAddr
			if mac != "" {
				if hw, err = net.ParseMAC(mac); err != nil {
					return err
				}
			}

			ctx := context.Background()
			if srv.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, srv.Timeout)
				defer cancel()
			}

			rt := omapi.Initialize()
			defer rt.Shutdown()

			conn, err := rt.Dial(ctx, net.JoinHostPort(srv.Host, fmt.Sprint(srv.Port)), key)
			if err != nil {
				return err
			}
			defer conn.Close()

			obj, err := conn.NewObject("host")
			if err != nil {
				return err
			}
			defer obj.Release()

			if hw != nil {
				err = obj.SetValue("hardware-address", omapi.HardwareAddr(hw))
			} else {
				err = obj.SetString("name", hostname)
			}
			if err != nil {
				return err
			}

			if err := obj.Submit(ctx, omapi.Query); err != nil {
				return err
			}

			st, err := obj.Wait(ctx)
			if err != nil {
				return err
			}

			if err := st.Err("query host"); err != nil {
				if omapi.IsNotFound(err) {
					return &exitError{code: ExitNoOp, err: err}
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "handle: %d\n", obj.Handle())
			for _, f := range obj.Values() {
				fmt.Fprintf(out, "%s: %s\n", f.Name, f.Value.Format())
			}

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&mac, "mac", "", "MAC address to look up")
	flags.StringVar(&hostname, "hostname", "", "Hostname to look up")

	return cmd
}
