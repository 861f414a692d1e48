// +build !linux

package logsutil

import (
	"github.com/sirupsen/logrus"
)

// MaybeSetupJournald is a no-op, journald only exists on Linux
func MaybeSetupJournald(l *logrus.Logger, force bool) {
}
