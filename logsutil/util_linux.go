// +build linux

package logsutil

import (
	"github.com/coreos/go-systemd/util"
	"github.com/sirupsen/logrus"
	"github.com/wercker/journalhook"
)

// MaybeSetupJournald sends l's output to journald as well when the process runs as a systemd
// unit. force skips the systemd check.
func MaybeSetupJournald(l *logrus.Logger, force bool) {
	if force {
		l.AddHook(&journalhook.JournalHook{})
		return
	}
	if runningFromSystemService, err := util.RunningFromSystemService(); runningFromSystemService {
		l.AddHook(&journalhook.JournalHook{})
	} else if err != nil {
		l.WithError(err).Error("Error checking if running under systemd unit")
	}
}
