package config

// HardValidateMode selects how the hard validator treats violations.
type HardValidateMode string

const (
	// HardValidateOff disables the hard validator entirely.
	HardValidateOff HardValidateMode = "off"
	// HardValidateReport records violations without mutating the record.
	HardValidateReport HardValidateMode = "report"
	// HardValidateEnforce applies the cleaning rules and records violations.
	HardValidateEnforce HardValidateMode = "enforce"
)

// IsValid checks if the mode is one of the recognized values.
func (m HardValidateMode) IsValid() bool {
	switch m {
	case HardValidateOff, HardValidateReport, HardValidateEnforce:
		return true
	default:
		return false
	}
}
