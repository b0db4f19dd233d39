// Command gateway is the read-path gateway's process entrypoint: it wires
// the core components (internal/*) into a running server, following the
// cmd/cli subcommand shape in gateway_node.go (one cobra.Command per
// concern, package-level state behind a mutex, PersistentPreRunE doing the
// one-time construction).
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const gatewayVersion = "0.1.0"

func main() {
	var cfgPath string

	var listenAddr, logLevel string

	root := &cobra.Command{
		Use:   "gateway",
		Short: "Arweave/ANS-104 read-path gateway",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			if err := gwInit(cfgPath, configOverrides{ListenAddr: listenAddr, LogLevel: logLevel}); err != nil {
				return err
			}
			logrus.Infof("weave-gateway %s: %s initialised", gatewayVersion, cmd.Name())
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a config file (optional; env GATEWAY_* and defaults otherwise)")
	root.PersistentFlags().StringVar(&listenAddr, "listen-addr", "", "override listen_addr")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level")

	root.AddCommand(serveCmd())
	root.AddCommand(verifyIDCmd())
	root.AddCommand(cdbInspectCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
