package heartbeat

import (
	"context"
	"io/ioutil"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/Netflix/devdiag/logger"
	"github.com/pkg/errors"
)

// HistoryLimitEnv is set for the collection command to the requested history length in milliseconds
const HistoryLimitEnv = "DEVDIAG_HISTORY_LIMIT_MS"

// CommandCollector runs an external command and stages its standard output
type CommandCollector struct {
	Command    []string
	StagingDir string
}

var _ BatteryStatsCollector = (*CommandCollector)(nil)

func (c *CommandCollector) Collect(ctx context.Context, limit time.Duration) (string, error) {
	if len(c.Command) == 0 {
		return "", errors.New("No battery stats command configured")
	}
	f, err := ioutil.TempFile(c.StagingDir, "batterystats-*.txt")
	if err != nil {
		return "", errors.Wrap(err, "Cannot create staging file")
	}

	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...) // nolint: gosec
	cmd.Env = append(os.Environ(), HistoryLimitEnv+"="+strconv.FormatInt(limit.Milliseconds(), 10))
	cmd.Stdout = f
	err = cmd.Run()
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", errors.Wrapf(err, "Battery stats command %v failed", c.Command)
	}
	logger.G(ctx).WithField("file", f.Name()).Debug("Collected battery stats")
	return f.Name(), nil
}
