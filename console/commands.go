package console

import (
	"errors"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ggoodman/proxy-virtualizer-go/connector"
	"github.com/ggoodman/proxy-virtualizer-go/launcher"
	"github.com/ggoodman/proxy-virtualizer-go/protocol"
	"github.com/ggoodman/proxy-virtualizer-go/rulesfile"
	"github.com/ggoodman/proxy-virtualizer-go/servers"
)

// DefaultDisconnectReason is sent by "packet disconnect" without a reason.
const DefaultDisconnectReason = "Disconnected from virtual server"

func (r *run) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           RootName,
		Short:         "Manage virtual servers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		r.listCmd(),
		r.launchCmd(),
		r.stopCmd(),
		r.connectCmd(),
		r.disconnectCmd(),
		r.protocolCmd("allow-protocol", "Allow a protocol version on a server", true),
		r.protocolCmd("deny-protocol", "Remove a protocol version from a server", false),
		r.packetMapCmd(),
		r.packetUnmapCmd(),
		r.packetRulesCmd(),
		r.rulesLoadCmd(),
		r.packetCmd(),
	)
	return root
}

func (r *run) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List launched virtual servers",
		Args:  argsBetween(0, 0, "list"),
		RunE: func(cmd *cobra.Command, args []string) error {
			list := r.registry.List()
			if len(list) == 0 {
				r.info("No virtual servers launched.")
				return nil
			}
			names := make([]string, 0, len(list))
			for _, s := range list {
				names = append(names, s.Name())
			}
			sort.Strings(names)
			r.info("Virtual servers (%d): %s", len(names), strings.Join(names, ", "))
			return nil
		},
	}
}

func (r *run) launchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "launch <name>",
		Short: "Create and register a virtual server",
		Args:  argsBetween(1, 1, "launch <name>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := r.launcher.Launch(cmd.Context(), args[0])
			switch {
			case errors.Is(err, launcher.ErrAlreadyLaunched):
				return r.fail("%s", err.Error())
			case errors.Is(err, servers.ErrBlankName):
				return r.fail("Invalid server name: %s", err.Error())
			case err != nil:
				return r.fail("Launch failed: %s", err.Error())
			}
			r.success("Launched virtual server: %s", s.Name())
			return nil
		},
	}
}

func (r *run) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Return every client in a server and unregister it",
		Args:  argsBetween(1, 1, "stop <name>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !r.launcher.Stop(cmd.Context(), args[0]) {
				return r.fail("Virtual server not found: %s", args[0])
			}
			r.success("Stopped virtual server: %s", args[0])
			return nil
		},
	}
}

func (r *run) connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <server> [client]",
		Short: "Move a client into a virtual server",
		Args:  argsBetween(1, 2, "connect <server> [client]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := r.target(args, 1)
			if err != nil {
				return err
			}
			s, err := r.server(args[0])
			if err != nil {
				return err
			}
			ok, err := r.connector.Connect(cmd.Context(), s, c)
			if errors.Is(err, connector.ErrAlreadyConnected) {
				return r.fail("%s", err.Error())
			}
			if err != nil {
				return r.fail("Connect failed: %s", err.Error())
			}
			if !ok {
				return r.fail("Failed to enter virtual server. Expected a supported protocol (target: %d) and a successful bootstrap.",
					r.sender.TargetProtocol())
			}
			r.success("Connected %s to virtual server: %s", c.Username(), s.Name())
			return nil
		},
	}
}

func (r *run) disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "disconnect [client]",
		Aliases: []string{"leave"},
		Short:   "Take a client out of its virtual server",
		Args:    argsBetween(0, 1, "disconnect [client]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := r.target(args, 0)
			if err != nil {
				return err
			}
			removed, err := r.connector.Disconnect(cmd.Context(), c)
			if err != nil {
				return r.fail("Disconnect failed: %s", err.Error())
			}
			if !removed {
				r.info("%s is not connected to a virtual server.", c.Username())
				return nil
			}
			if !r.connector.SendToPreviousServer(cmd.Context(), c) {
				r.info("%s could not be returned to a previous server.", c.Username())
			}
			r.success("Disconnected %s from virtual server.", c.Username())
			return nil
		},
	}
}

func (r *run) protocolCmd(name, short string, allow bool) *cobra.Command {
	usage := name + " <server> <protocolVersion>"
	return &cobra.Command{
		Use:   usage,
		Short: short,
		Args:  argsBetween(2, 2, usage),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := r.server(args[0])
			if err != nil {
				return err
			}
			v, err := parseInt(args[1], "protocol version")
			if err != nil {
				return r.fail("%s", err.Error())
			}
			if allow {
				s.AllowProtocolVersion(v)
				r.success("Allowed protocol %d for %s", v, s.Name())
			} else {
				s.DisallowProtocolVersion(v)
				r.success("Denied protocol %d for %s", v, s.Name())
			}
			return nil
		},
	}
}

func (r *run) packetMapCmd() *cobra.Command {
	const usage = "packet-map <server> <packetKey> <protocolVersion> <packetVersion>"
	return &cobra.Command{
		Use:   usage,
		Short: "Set the packet layout used for a packet kind at a protocol version",
		Args:  argsBetween(4, 4, usage),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := r.server(args[0])
			if err != nil {
				return err
			}
			proto, err := parseInt(args[2], "protocol version")
			if err != nil {
				return r.fail("%s", err.Error())
			}
			pv, err := parseInt(args[3], "packet version")
			if err != nil {
				return r.fail("%s", err.Error())
			}
			if err := protocol.ValidatePacketVersion(args[1], pv); err != nil {
				return r.fail("%s", err.Error())
			}
			rule, err := s.RegisterPacketVersion(args[1], proto, pv)
			if err != nil {
				return r.fail("%s", err.Error())
			}
			r.success("Packet mapping set: %s", rule)
			return nil
		},
	}
}

func (r *run) packetUnmapCmd() *cobra.Command {
	const usage = "packet-unmap <server> <packetKey> <protocolVersion>"
	return &cobra.Command{
		Use:   usage,
		Short: "Remove a packet mapping",
		Args:  argsBetween(3, 3, usage),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := r.server(args[0])
			if err != nil {
				return err
			}
			proto, err := parseInt(args[2], "protocol version")
			if err != nil {
				return r.fail("%s", err.Error())
			}
			if !s.RemovePacketVersion(args[1], proto) {
				r.info("No mapping for %s at protocol %d on %s.", args[1], proto, s.Name())
				return nil
			}
			r.success("Packet mapping removed: %s protocol=%d", args[1], proto)
			return nil
		},
	}
}

func (r *run) packetRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "packet-rules <server>",
		Short: "Show a server's protocols and packet mappings",
		Args:  argsBetween(1, 1, "packet-rules <server>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := r.server(args[0])
			if err != nil {
				return err
			}
			protos := s.SupportedProtocolVersions()
			if len(protos) == 0 {
				r.info("%s accepts every protocol version.", s.Name())
			} else {
				parts := make([]string, len(protos))
				for i, p := range protos {
					parts[i] = itoa(p)
				}
				r.info("%s protocols: %s", s.Name(), strings.Join(parts, ", "))
			}
			matrix := s.PacketVersionMatrix()
			if len(matrix) == 0 {
				r.info("No packet rules for %s.", s.Name())
				return nil
			}
			keys := make([]string, 0, len(matrix))
			for k := range matrix {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				for _, rule := range matrix[k] {
					r.info("%s", rule)
				}
			}
			return nil
		},
	}
}

func (r *run) rulesLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules-load <path>",
		Short: "Apply a packet rules file to the launched servers",
		Args:  argsBetween(1, 1, "rules-load <path>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := rulesfile.Load(args[0])
			if err != nil {
				return r.fail("%s", err.Error())
			}
			res, err := f.Apply(r.registry)
			if err != nil {
				return r.fail("%s", err.Error())
			}
			if len(res.Missing) > 0 {
				r.info("Not launched, skipped: %s", strings.Join(res.Missing, ", "))
			}
			r.success("Rules applied to %d server(s): %d set, %d removed.", len(res.Applied), res.Rules, res.Removed)
			return nil
		},
	}
}
