// +build linux

package payload

import (
	"io/ioutil"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const bootIDPath = "/proc/sys/kernel/random/boot_id"

func uptime() time.Duration {
	var ts unix.Timespec
	// CLOCK_BOOTTIME keeps counting while suspended, unlike CLOCK_MONOTONIC
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}

func bootID() string {
	data, err := ioutil.ReadFile(bootIDPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
