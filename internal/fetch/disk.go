package fetch

import (
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/disk"
)

// HasRoom reports whether dir's filesystem has at least need free bytes,
// grounded on original_source/fsops.c's fs_has_room (a statvfs free-space
// check run before every package download).
func HasRoom(dir string, need int64) (bool, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return false, errors.Wrapf(err, "fetch: disk usage for %s", dir)
	}
	return int64(usage.Free) >= need, nil
}
