package mediavault

import "fmt"

// FormatSize renders a byte count with two decimals in B, kB or MB (decimal
// units). The scale stops at MB, and a value is labelled by its magnitude
// before rounding, so 999999 prints as "1000.00 kB".
func FormatSize(size int64) string {
	value := float64(size)
	switch {
	case size < 1000:
		return fmt.Sprintf("%.2f B", value)
	case size < 1000*1000:
		return fmt.Sprintf("%.2f kB", value/1000)
	default:
		return fmt.Sprintf("%.2f MB", value/(1000*1000))
	}
}
