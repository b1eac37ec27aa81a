// Package plotctl is the operator CLI for the collector: status, devices,
// mode switching and recommendations.
package plotctl

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
)

type options struct {
	server  string
	timeout time.Duration
	json    bool
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "plotctl",
		Short:         "plotctl - inspect and steer the plot collector",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("COLLECTOR_URL")
	if server == "" {
		server = "http://localhost:5000"
	}
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", server, "Collector base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "Request timeout")
	root.PersistentFlags().BoolVarP(&opts.json, "json", "j", false, "Output as JSON")

	root.AddCommand(statusCmd(opts))
	root.AddCommand(devicesCmd(opts))
	root.AddCommand(modeCmd(opts))
	root.AddCommand(recommendCmd(opts))
	return root
}

func (o *options) client() *Client { return NewClient(o.server, o.timeout) }

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show collector health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := opts.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json {
				return writeJSON(out, h)
			}
			fmt.Fprintln(out, "Collector Status")
			fmt.Fprintln(out, strings.Repeat("=", 40))
			fmt.Fprintf(out, "  Status:   %s\n", h.Status)
			fmt.Fprintf(out, "  Ready:    %t\n", h.Ready)
			fmt.Fprintf(out, "  MQTT:     %s\n", h.MQTT)
			fmt.Fprintf(out, "  Influx:   %s\n", h.Influx)
			fmt.Fprintf(out, "  Devices:  %d\n", h.Devices)
			fmt.Fprintf(out, "  Uptime:   %s\n", time.Duration(h.UptimeS)*time.Second)
			return nil
		},
	}
}

func devicesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "devices [id]",
		Aliases: []string{"device", "ls"},
		Short:   "List devices, or show one",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			var list []Device
			if len(args) == 1 {
				d, err := c.Device(cmd.Context(), args[0])
				if err != nil {
					return notFound(err, "device "+args[0])
				}
				list = []Device{*d}
			} else {
				var err error
				if list, err = c.Devices(cmd.Context()); err != nil {
					return err
				}
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			return writeDevices(cmd.OutOrStdout(), list)
		},
	}
}

func modeCmd(opts *options) *cobra.Command {
	var device string
	cmd := &cobra.Command{
		Use:   "mode [automatic|manual]",
		Short: "Show or set the decision mode (global unless --device)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				mode, err := entities.ParseMode(strings.ToLower(args[0]))
				if err != nil {
					return err
				}
				if err := c.SetMode(cmd.Context(), device, mode); err != nil {
					return notFound(err, "device "+device)
				}
			}
			info, err := c.Mode(cmd.Context(), device)
			if err != nil {
				return notFound(err, "device "+device)
			}
			if opts.json {
				return writeJSON(out, info)
			}
			if info.Scope == "global" {
				fmt.Fprintf(out, "global mode: %s\n", info.Mode)
			} else {
				fmt.Fprintf(out, "%s mode: %s\n", info.DeviceID, info.Mode)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&device, "device", "d", "", "Device id")
	return cmd
}

func recommendCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "recommendation <id>",
		Aliases: []string{"rec"},
		Short:   "Evaluate the latest snapshot of a device",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := opts.client().Recommendation(cmd.Context(), args[0])
			out := cmd.OutOrStdout()
			var declined *DeclinedError
			if errors.As(err, &declined) {
				fmt.Fprintf(out, "no recommendation for %s: %s\n", args[0], declined.Reason)
				return nil
			}
			if err != nil {
				return notFound(err, "device "+args[0])
			}
			if opts.json {
				return writeJSON(out, rec)
			}
			fmt.Fprintf(out, "%s  %s", rec.DeviceID, rec.Action)
			if rec.DurationMinutes > 0 {
				fmt.Fprintf(out, " for %d min", rec.DurationMinutes)
			}
			fmt.Fprintf(out, "  (score %.1f, %s)\n", rec.Score, rec.Status)
			fmt.Fprintf(out, "  %s\n", rec.Rationale)
			return nil
		},
	}
}

func writeDevices(w io.Writer, list []Device) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tMODE\tSTATUS\tLINK\tSOIL%\tWATER L\tACTION\tSCORE")
	for _, d := range list {
		status, soil, water := "-", "-", "-"
		if s := d.Snapshot; s != nil {
			status = s.Status()
			soil = fmt.Sprintf("%.1f", s.SoilMoisture)
			water = fmt.Sprintf("%.0f", s.WaterLevel)
		}
		action, score := "-", "-"
		if r := d.Recommendation; r != nil {
			action = string(r.Action)
			score = fmt.Sprintf("%.1f", r.Score)
		} else if d.Declined != "" {
			action = "(" + d.Declined + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.DeviceID, d.Mode, status, d.ConnectionStatus, soil, water, action, score)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func notFound(err error, what string) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s not found", what)
	}
	return err
}
