package serial

import (
	"errors"
	"path/filepath"
	"sort"
)

var ErrNoPortFound = errors.New("serial: no candidate port found")

// candidate device patterns, in preference order. USB adapters first as
// the arm always enumerates as one.
var discoverGlobs = []string{
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
	"/dev/tty.usbserial*",
	"/dev/tty.usbmodem*",
}

// Discover returns the first device that looks like the robot arm.
func Discover() (string, error) {
	for _, pattern := range discoverGlobs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		if len(matches) > 0 {
			sort.Strings(matches)
			return matches[0], nil
		}
	}
	return "", ErrNoPortFound
}
