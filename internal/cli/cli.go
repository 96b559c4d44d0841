// Package cli implements pwb, a terminal participant for PaintWithBuddy
// rooms. It chats, draws with slash commands, joins voice and saves the
// shared canvas to PNG.
package cli

import (
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

const (
	appName       = "pwb"
	defaultServer = "http://localhost:3000"
)

// Log levels exported for use in main.go
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds state shared by every command
type CLI struct {
	Logger *log.Logger

	in   io.Reader
	out  io.Writer
	file FileConfig
}

func New(in io.Reader, out, errOut io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: log.NewWithOptions(errOut, log.Options{
			ReportTimestamp: true,
			TimeFormat:      "15:04:05.00",
			Level:           level,
		}),
		in:  in,
		out: out,
	}
}

func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root command with every subcommand registered
func (c *CLI) RootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          appName,
		Short:        "pwb joins PaintWithBuddy rooms from the terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadFileConfig(configPath)
			if err != nil {
				return err
			}
			c.file = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/pwb/config.toml)")

	root.AddCommand(c.joinCommand())
	root.AddCommand(c.existsCommand())

	return root
}

// serverFlag resolves --server against the config file
func (c *CLI) serverFlag(cmd *cobra.Command, value string) string {
	if !cmd.Flags().Changed("server") && c.file.Server != "" {
		return c.file.Server
	}
	return value
}
