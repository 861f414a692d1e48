// Package tag holds the tags attached to every metric the daemon emits.
package tag

import (
	"github.com/Netflix/devdiag/deviceinfo"
)

// Defaults to be added to all metrics
func Defaults(info deviceinfo.Info) map[string]string {
	return map[string]string{
		"hardwareVersion": info.HardwareVersion,
		"softwareVersion": info.SoftwareVersion,
	}
}
