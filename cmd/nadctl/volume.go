package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-nad/internal/bridges/nad"
)

// Conversion targets for the volume command.
const (
	toPercent = "percent"
	toDB      = "db"
)

func newVolumeCmd() *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "volume VALUE",
		Short: "Convert between receiver dB and bridge percent",
		Long: fmt.Sprintf(`Convert a volume level using the same scale as the bridge.

The receiver range is %d dB to %+d dB. Use "--" before negative values.`, nad.MinVolumeDB, nad.MaxVolumeDB),
		Example: `  nadctl volume --to percent -- -35
  nadctl volume --to db 50`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := convertVolume(args[0], to)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", toPercent, "Target unit: percent or db")
	return cmd
}

func convertVolume(value, to string) (string, error) {
	switch to {
	case toPercent:
		db, err := nad.ParseVolumeDB(value)
		if err != nil {
			return "", fmt.Errorf("invalid dB level %q", value)
		}
		return strconv.Itoa(nad.PercentFromDB(db)), nil
	case toDB:
		percent, err := strconv.Atoi(value)
		if err != nil || percent < 0 || percent > 100 {
			return "", fmt.Errorf("invalid percentage %q", value)
		}
		return nad.FormatVolumeDB(nad.DBFromPercent(percent)), nil
	default:
		return "", fmt.Errorf("unknown target %q (want %s or %s)", to, toPercent, toDB)
	}
}
