package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gitlab.com/paintwithbuddy/services/backend/pkg/client"
)

func (c *CLI) existsCommand() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "exists ROOM",
		Short: "Check whether a room is live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server = c.serverFlag(cmd, server)
			ok, err := client.RoomExists(cmd.Context(), server, args[0])
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(c.out, "%s room %s is live\n", styleSuccess.Render(iconSuccess), styleTitle.Render(args[0]))
			} else {
				fmt.Fprintf(c.out, "%s room %s does not exist\n", styleError.Render(iconError), styleTitle.Render(args[0]))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", defaultServer, "server URL")
	return cmd
}
