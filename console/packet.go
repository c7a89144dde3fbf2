package console

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ggoodman/proxy-virtualizer-go/servers"
)

func itoa(v int) string { return strconv.Itoa(v) }

// packetCmd broadcasts a single packet kind to every client sessioned into a
// server.
func (r *run) packetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "packet <limbo|keepalive|chat|actionbar|title|disconnect> <server> [text...]",
		Short: "Send a virtual packet to every client in a server",
		Args:  argsBetween(1, -1, "packet <limbo|keepalive|chat|actionbar|title|disconnect> <server> [text...]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.fail("Unknown packet action: %s", strings.ToLower(args[0]))
		},
	}

	type action struct {
		name     string
		usage    string
		needText bool
		send     func(cmd *cobra.Command, s *servers.Server, text string) (int, string)
	}
	actions := []action{
		{
			name:  "limbo",
			usage: "packet limbo <server>",
			send: func(cmd *cobra.Command, s *servers.Server, _ string) (int, string) {
				return r.sender.BroadcastVoidLimboBootstrap(cmd.Context(), s), "Void limbo bootstrap"
			},
		},
		{
			name:  "keepalive",
			usage: "packet keepalive <server>",
			send: func(cmd *cobra.Command, s *servers.Server, _ string) (int, string) {
				return r.sender.BroadcastKeepAlive(cmd.Context(), s), "KeepAlive"
			},
		},
		{
			name:     "chat",
			usage:    "packet chat <server> <message>",
			needText: true,
			send: func(cmd *cobra.Command, s *servers.Server, text string) (int, string) {
				return r.sender.BroadcastChat(cmd.Context(), s, text), "Chat packet"
			},
		},
		{
			name:     "actionbar",
			usage:    "packet actionbar <server> <message>",
			needText: true,
			send: func(cmd *cobra.Command, s *servers.Server, text string) (int, string) {
				return r.sender.BroadcastActionBar(cmd.Context(), s, text), "ActionBar packet"
			},
		},
		{
			name:     "title",
			usage:    "packet title <server> <title[||subtitle]>",
			needText: true,
			send: func(cmd *cobra.Command, s *servers.Server, text string) (int, string) {
				title, subtitle, _ := strings.Cut(text, "||")
				return r.sender.BroadcastTitle(cmd.Context(), s, strings.TrimSpace(title), strings.TrimSpace(subtitle)), "Title packet"
			},
		},
		{
			name:  "disconnect",
			usage: "packet disconnect <server> [reason]",
			send: func(cmd *cobra.Command, s *servers.Server, text string) (int, string) {
				if text == "" {
					text = DefaultDisconnectReason
				}
				return r.sender.BroadcastDisconnect(cmd.Context(), s, text), "Disconnect packet"
			},
		},
	}

	for _, a := range actions {
		minArgs := 1
		if a.needText {
			minArgs = 2
		}
		cmd.AddCommand(&cobra.Command{
			Use:                a.usage[len("packet "):],
			Short:              "Send " + a.name,
			DisableFlagParsing: true,
			Args:               argsBetween(minArgs, -1, a.usage),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := r.server(args[0])
				if err != nil {
					return err
				}
				text := strings.TrimSpace(strings.Join(args[1:], " "))
				if a.needText && text == "" {
					return &usageError{usage: a.usage}
				}
				n, what := a.send(cmd, s, text)
				r.success("%s sent to %d client(s) in %s.", what, n, s.Name())
				return nil
			},
		})
	}
	return cmd
}
