// Package sysstatus reports storage headroom for GET /api/system/status
// and for the /recording/start handler's low-disk check.
//
// Uses gopsutil's disk.Usage only.
package sysstatus

import (
	"github.com/shirou/gopsutil/v3/disk"
)

// Storage reports free/total bytes for the recordings directory's
// filesystem.
type Storage struct {
	TotalBytes uint64  `json:"total_bytes"`
	FreeBytes  uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// StorageFor returns disk usage for the filesystem containing path.
func StorageFor(path string) (Storage, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return Storage{}, err
	}
	return Storage{
		TotalBytes:  usage.Total,
		FreeBytes:   usage.Free,
		UsedPercent: usage.UsedPercent,
	}, nil
}

// LowStorageThresholdPercent is the used-percent above which
// /recording/start refuses with 507 Insufficient Storage.
const LowStorageThresholdPercent = 95.0

// IsLow reports whether s is below the safety margin for starting a new
// recording.
func (s Storage) IsLow() bool {
	return s.UsedPercent >= LowStorageThresholdPercent
}
