package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nace/peka/internal/device"
	"github.com/nace/peka/internal/system"
	"github.com/nace/peka/internal/ui"
)

// ListCommand handles listing block devices
type ListCommand struct {
	ctx       *GlobalContext
	json      bool
	removable bool
}

// NewListCommand creates the list command
func NewListCommand(ctx *GlobalContext) *cobra.Command {
	cmd := &ListCommand{ctx: ctx}

	cobraCmd := &cobra.Command{
		Use:   "list",
		Short: "List block devices",
		Long:  `List whole block devices detected on this system with size, model, mount state and whether they hold the running system.`,
		RunE:  cmd.Run,
	}

	cobraCmd.Flags().BoolVarP(&cmd.json, "json", "j", false, "JSON output")
	cobraCmd.Flags().BoolVarP(&cmd.removable, "removable", "r", false, "Only show removable devices")

	return cobraCmd
}

// Run executes the list command
func (c *ListCommand) Run(cmd *cobra.Command, args []string) error {
	if err := c.ctx.CheckDependencies(); err != nil {
		return err
	}

	devices, err := c.ctx.Inventory.List()
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	filtered := make([]device.Device, 0, len(devices))
	for _, d := range devices {
		if !d.Writable() {
			continue
		}
		if c.removable && !d.Removable {
			continue
		}
		filtered = append(filtered, d)
	}

	out := cmd.OutOrStdout()

	if c.json {
		return ui.PrintJSON(out, filtered)
	}

	if len(filtered) == 0 {
		fmt.Fprintln(out, "No devices detected")
		return nil
	}

	c.printTable(out, filtered)
	return nil
}

func (c *ListCommand) printTable(out io.Writer, devices []device.Device) {
	table := ui.NewTable(out, "PATH", "SIZE", "MODEL", "BUS", "REMOVABLE", "MOUNTED", "SYSTEM")
	table.AlignRight(1)

	for _, d := range devices {
		size := "-"
		if d.SizeBytes > 0 {
			size = system.FormatSize(d.SizeBytes)
		}

		model := d.Model
		if model == "" {
			model = "-"
		}

		transport := d.Transport
		if transport == "" {
			transport = "-"
		}

		mounted := "-"
		if len(d.Mountpoints) > 0 {
			mounted = strings.Join(d.Mountpoints, ", ")
		}

		table.AddRow(
			d.Path,
			size,
			model,
			transport,
			yesNo(d.Removable),
			mounted,
			yesNo(d.SystemDisk),
		)
	}

	table.Print()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
