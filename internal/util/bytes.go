package util

import "fmt"

var byteUnits = [...]string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatBytes renders a byte count in a fixed 8-character column, scaling
// the unit so the number stays under three digits, e.g. " 1.5 KiB".
func FormatBytes(n float64) string {
	unit := 0
	for n > 99 && unit < len(byteUnits)-1 {
		n /= 1024
		unit++
	}
	return fmt.Sprintf("%4.1f %3s", n, byteUnits[unit])
}
