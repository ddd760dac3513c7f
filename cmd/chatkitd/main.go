// chatkitd is a small standalone daemon that serves a chatkit App over HTTP
// callbacks or the socket transport, with the install flow and a persistent
// installation store.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/chatkit-go/chatkit/utils"
)

var (
	configPath string
	verbose    bool

	log utils.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chatkitd",
	Short: "A daemon serving a chat-platform request dispatcher.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zapcore.InfoLevel
		if verbose {
			level = zapcore.DebugLevel
		}
		log = utils.MustMakeCommandLogger(level)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start serving requests.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}
