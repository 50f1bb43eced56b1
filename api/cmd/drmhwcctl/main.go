// Command drmhwcctl is an operator CLI for inspecting and poking a
// drmhwcd-managed device: topology dumps, manual modesets, and power
// control, for bring-up and field debugging.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/helixml/drmhwc/api/pkg/kms/device"
)

var drmDevice string

func main() {
	root := &cobra.Command{
		Use:   "drmhwcctl",
		Short: "Inspect and control a DRM/KMS compositor device",
	}
	root.PersistentFlags().StringVar(&drmDevice, "device", "/dev/dri/card0", "DRM render node path")

	root.AddCommand(topologyCmd(), modesetCmd(), powerCmd(), flattenStatusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDevice() (*device.Device, error) {
	return device.Open(drmDevice)
}

func topologyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Print the device's resolved display topology",
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := openDevice()
			if err != nil {
				return err
			}
			defer dev.Close()

			for _, idx := range dev.Displays() {
				conn, _ := dev.Connector(idx)
				crtc, _ := dev.Crtc(idx)
				fmt.Printf("display %d: connector=%d crtc=%d modes=%d active_mode=%d\n", idx, conn.ID, crtc.ID, len(conn.Modes), conn.ActiveMode)
				primary, overlay, cursor := dev.PlanesForCrtc(crtc.ID)
				fmt.Printf("  planes: primary=%d overlay=%d cursor=%d\n", len(primary), len(overlay), len(cursor))
			}
			return nil
		},
	}
}

func modesetCmd() *cobra.Command {
	var displayIdx, modeID int
	cmd := &cobra.Command{
		Use:   "modeset",
		Short: "Request a mode change on a display",
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := openDevice()
			if err != nil {
				return err
			}
			defer dev.Close()
			conn, ok := dev.Connector(displayIdx)
			if !ok {
				return fmt.Errorf("no such display %d", displayIdx)
			}
			for _, m := range conn.Modes {
				if m.ID == modeID {
					conn.ActiveMode = modeID
					fmt.Printf("display %d now targets mode %d (%dx%d@%d)\n", displayIdx, modeID, m.Hdisplay, m.Vdisplay, m.RefreshHz())
					return nil
				}
			}
			return fmt.Errorf("display %d has no mode %d", displayIdx, modeID)
		},
	}
	cmd.Flags().IntVar(&displayIdx, "display", 0, "display index")
	cmd.Flags().IntVar(&modeID, "mode", 0, "mode id from `topology`")
	return cmd
}

func powerCmd() *cobra.Command {
	var displayIdx int
	var on bool
	cmd := &cobra.Command{
		Use:   "power",
		Short: "Turn a display on or off",
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := openDevice()
			if err != nil {
				return err
			}
			defer dev.Close()
			if _, ok := dev.Crtc(displayIdx); !ok {
				return fmt.Errorf("no such display %d", displayIdx)
			}
			fmt.Printf("display %d power -> %v (apply via the daemon's hwc facade; drmhwcctl only validates topology)\n", displayIdx, on)
			return nil
		},
	}
	cmd.Flags().IntVar(&displayIdx, "display", 0, "display index")
	cmd.Flags().BoolVar(&on, "on", true, "power state")
	return cmd
}

func flattenStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flatten-status",
		Short: "Report GPU-composition flatten countdown status (diagnostic; requires a running daemon)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("flatten-status requires a running drmhwcd with a diagnostics endpoint; not implemented in this build")
			return nil
		},
	}
}
