// Package retention keeps the staging directory bounded in age and size.
package retention

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Netflix/devdiag/logger"
	units "github.com/docker/go-units"
	"github.com/pkg/errors"
)

// Stats summarizes a single cleanup pass
type Stats struct {
	Deleted        int
	DeletedBytes   int64
	RemainingBytes int64
}

type file struct {
	path    string
	size    int64
	modTime time.Time
}

// CleanupFiles evicts regular files directly in dir. First every file older than maxAge is
// removed (maxAge <= 0 disables this), then, while the remaining files add up to more than
// maxBytes, the least recently modified ones go. A missing directory is not an error, files
// that cannot be removed are left for the next pass.
func CleanupFiles(ctx context.Context, dir string, maxBytes int64, maxAge time.Duration, now time.Time) (Stats, error) {
	var stats Stats
	files, err := listFiles(dir)
	if os.IsNotExist(err) {
		return stats, nil
	} else if err != nil {
		return stats, errors.Wrapf(err, "Cannot list %s", dir)
	}

	remove := func(f file) bool {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			logger.G(ctx).WithError(err).WithField("file", f.path).Debug("Cannot remove file, leaving it for the next pass")
			return false
		}
		stats.Deleted++
		stats.DeletedBytes += f.size
		return true
	}

	kept := files[:0]
	for _, f := range files {
		if maxAge > 0 && now.Sub(f.modTime) > maxAge && remove(f) {
			continue
		}
		kept = append(kept, f)
	}

	var total int64
	for _, f := range kept {
		total += f.size
	}
	if total > maxBytes {
		sort.SliceStable(kept, func(i, j int) bool {
			return kept[i].modTime.Before(kept[j].modTime)
		})
		for _, f := range kept {
			if total <= maxBytes {
				break
			}
			if remove(f) {
				total -= f.size
			}
		}
	}
	stats.RemainingBytes = total

	if stats.Deleted > 0 {
		logger.G(ctx).WithFields(map[string]interface{}{
			"dir":       dir,
			"deleted":   stats.Deleted,
			"freed":     units.BytesSize(float64(stats.DeletedBytes)),
			"remaining": units.BytesSize(float64(stats.RemainingBytes)),
		}).Info("Cleaned up files")
	}
	return stats, nil
}

func listFiles(dir string) ([]file, error) {
	fileInfos, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make([]file, 0, len(fileInfos))
	for _, fileInfo := range fileInfos {
		if !fileInfo.Mode().IsRegular() {
			continue
		}
		files = append(files, file{
			path:    filepath.Join(dir, fileInfo.Name()),
			size:    fileInfo.Size(),
			modTime: fileInfo.ModTime(),
		})
	}
	return files, nil
}
