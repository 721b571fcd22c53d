package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	corelog "github.com/nextdhcp/omapi-sync/core/log"
	"github.com/nextdhcp/omapi-sync/internal/config"
	"github.com/nextdhcp/omapi-sync/pkg/omapi"
	"github.com/spf13/cobra"
)

// Exit codes of omapi-sync
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitNoOp    = 2
)

// exitError makes Run exit with code. err may be nil if the command
// already reported what happened
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// globals holds the persistent flags shared by all commands
type globals struct {
	configFile string
	logLevel   string
}

// Execute runs omapi-sync with the arguments of the process and returns
// the exit code
func Execute() int {
	return Run(os.Args[1:], os.Stdout, os.Stderr)
}

// Run executes the command line args and returns the exit code
func Run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return ExitSuccess
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, "Error:", ee.err)
		}
		return ee.code
	}

	fmt.Fprintln(stderr, "Error:", err)
	return ExitError
}

func newRootCmd(logOutput io.Writer) *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "omapi-sync",
		Short: "Keep DHCP host reservations in sync using OMAPI",
		Long: `omapi-sync makes sure an ISC DHCP server holds a host reservation for a
hostname, IP address and MAC address triple. Stale reservations for the MAC
address or the hostname are removed before the reservation is created.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return corelog.Setup(g.logLevel, logOutput)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&g.configFile, "config", "c", config.DefaultFile, "Path to configuration file")
	flags.StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("server", "", "Address of the OMAPI server")
	flags.Uint16("port", omapi.DefaultPort, "Port of the OMAPI server")
	flags.String("key-name", "", "Name of the OMAPI key")
	flags.String("key-secret", "", "Base64 encoded secret of the OMAPI key")
	flags.String("algorithm", omapi.HMACMD5.String(), "Algorithm of the OMAPI key")
	flags.String("compare", "prefix", "How existing addresses are compared (prefix or exact)")
	flags.Duration("timeout", config.DefaultTimeout, "Timeout of a single run")

	root.AddCommand(
		newReconcileCmd(g),
		newLookupCmd(g),
		newVersionCmd(),
		newDirectivesCmd(),
	)

	return root
}

func (g *globals) load(cmd *cobra.Command) (*config.Server, error) {
	return config.Load(g.configFile, cmd.Flags())
}
