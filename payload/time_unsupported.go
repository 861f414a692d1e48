// +build !linux

package payload

import "time"

var processStart = time.Now()

func uptime() time.Duration {
	return time.Since(processStart)
}

func bootID() string {
	return ""
}
