package units

// Channel width constants as carried in capture metadata.
const (
	Width20MHz = "20MHz"
	Width40MHz = "40MHz"
	Width80MHz = "80MHz"
)

// ValidWidths contains all channel widths recognized on the wire.
var ValidWidths = []string{Width20MHz, Width40MHz, Width80MHz}

// IsValidWidth checks if the given channel width is recognized.
func IsValidWidth(width string) bool {
	for _, w := range ValidWidths {
		if width == w {
			return true
		}
	}
	return false
}

// ValidWidthsString returns a comma-separated list of recognized widths for
// error messages.
func ValidWidthsString() string {
	return "20MHz, 40MHz, 80MHz"
}
