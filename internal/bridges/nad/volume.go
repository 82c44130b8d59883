package nad

import (
	"math"
	"strconv"
	"strings"
)

// Volume range of the NADCP Volume variable, in dB.
const (
	MinVolumeDB = -99
	MaxVolumeDB = 19

	// volumeRangeDB is MaxVolumeDB - MinVolumeDB.
	volumeRangeDB = 118
)

// PercentFromDB converts a dB level into a 0..100 percentage.
//
// Parameters:
//   - db: Level as reported by Main.Volume or ZoneN.Volume, in dB
//
// Levels outside MinVolumeDB..MaxVolumeDB are clamped before scaling, and
// ties round half to even.
//
// Returns:
//   - int: Percentage of the device range, 0 at MinVolumeDB and 100 at MaxVolumeDB
//
// Example:
//
//	PercentFromDB(-40) // 50
//	PercentFromDB(-35) // 54
func PercentFromDB(db float64) int {
	db = clampDB(db)
	percent := (db - MinVolumeDB) / volumeRangeDB * 100 //nolint:mnd // percent scale
	return int(math.RoundToEven(percent))
}

// DBFromPercent converts a 0..100 percentage into a whole dB level within
// the device range. It is the inverse of PercentFromDB to within 1 dB.
//
// Parameters:
//   - percent: Requested level; values below 0 or above 100 are clamped
//
// Returns:
//   - int: Level in dB, ready to send as a Volume value
//
// Example:
//
//	DBFromPercent(50) // -40
//	DBFromPercent(54) // -35
func DBFromPercent(percent int) int {
	if percent < 0 {
		percent = 0
	} else if percent > 100 { //nolint:mnd // percent scale
		percent = 100
	}
	db := math.Round(float64(percent)/100*volumeRangeDB + MinVolumeDB) //nolint:mnd // percent scale
	return int(clampDB(db))
}

// ParseVolumeDB parses a Volume value as reported by the receiver
// ("-35", "-35.5", "+4").
func ParseVolumeDB(raw string) (float64, error) {
	db, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(raw), "+"), 64)
	if err != nil {
		return 0, err
	}
	return clampDB(db), nil
}

// FormatVolumeDB renders a dB level for a Volume set command.
func FormatVolumeDB(db int) string {
	return strconv.Itoa(int(clampDB(float64(db))))
}

func clampDB(db float64) float64 {
	return math.Max(MinVolumeDB, math.Min(MaxVolumeDB, db))
}
