package aredn

import (
	"strconv"
	"strings"
)

// VersionChecker scores firmware and API versions against the configured
// current releases. Scores range 0 (current) to 3 (very far behind); -1 means
// the version string could not be parsed.
type VersionChecker struct {
	firmware []int
	api      []int
}

// NewVersionChecker parses the configured current firmware and API versions.
func NewVersionChecker(currentFirmware, currentAPI string) VersionChecker {
	return VersionChecker{
		firmware: parseVersionParts(currentFirmware),
		api:      parseVersionParts(currentAPI),
	}
}

// Firmware scores how far behind the given firmware version is.
func (c VersionChecker) Firmware(version string) int {
	sample := parseVersionParts(version)
	if sample == nil {
		return -1
	}
	return versionDelta(sample, c.firmware)
}

// API scores how far behind the given API version is.
func (c VersionChecker) API(version string) int {
	sample := parseVersionParts(version)
	if sample == nil {
		return -1
	}
	return versionDelta(sample, c.api)
}

func parseVersionParts(version string) []int {
	fields := strings.Split(strings.TrimSpace(version), ".")
	parts := make([]int, 0, len(fields))
	for _, field := range fields {
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil
		}
		parts = append(parts, n)
	}
	return parts
}

// versionDelta weights the difference between two versions on a 0-3 scale.
// A major-version gap is always 3; gaps in the last position weigh less.
func versionDelta(sample, standard []int) int {
	length := len(standard)
	if len(sample) > length {
		length = len(sample)
	}
	for position := 1; position <= length; position++ {
		current := at(sample, position-1)
		goal := at(standard, position-1)
		delta := goal - current
		if delta == 0 {
			continue
		}
		if position == 1 {
			return 3
		}
		if position == length {
			if length == 2 {
				if delta < 2 {
					return 1
				}
				return 2
			}
			if delta < 4 {
				return 1
			}
			return 2
		}
		if delta < 2 {
			return 2
		}
		return 3
	}
	return 0
}

func at(parts []int, idx int) int {
	if idx >= len(parts) {
		return 0
	}
	return parts[idx]
}
