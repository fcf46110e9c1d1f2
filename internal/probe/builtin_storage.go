package probe

import (
	"context"

	"github.com/shirou/gopsutil/v4/disk"
)

// Registry keys feeding the payload's storage object.
const (
	StorageCapacityProbeName = "storage.capacity"
	StorageUsedProbeName     = "storage.used"
	StorageDisksProbeName    = "storage.disks"
)

// Disk usage thresholds (percent used) for the disks[].status field. No
// SMART/health library is wired for this exercise; status is derived from
// utilisation the same way a NAS dashboard typically flags "getting full".
const (
	diskWarningPercent = 80.0
	diskErrorPercent   = 95.0
)

// DiskStatus is one entry of the payload's storage.disks list.
type DiskStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"` // "normal", "warning", "error"
}

func diskStatusFor(usedPercent float64) string {
	switch {
	case usedPercent >= diskErrorPercent:
		return "error"
	case usedPercent >= diskWarningPercent:
		return "warning"
	default:
		return "normal"
	}
}

// readDiskUsages enumerates mounted partitions and reads usage for each,
// skipping any that fail (a single unreadable mount must not fail the whole
// storage probe set).
func readDiskUsages(ctx context.Context) ([]*disk.UsageStat, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, &Error{Kind: ErrProbeFailed, Message: "disk.Partitions", Cause: err}
	}

	var usages []*disk.UsageStat
	for _, part := range partitions {
		usage, err := disk.UsageWithContext(ctx, part.Mountpoint)
		if err != nil {
			continue
		}
		usages = append(usages, usage)
	}
	if len(usages) == 0 {
		return nil, &Error{Kind: ErrProbeFailed, Message: "no readable disk partitions"}
	}
	return usages, nil
}

type storageCapacityProbe struct{}

func NewStorageCapacityProbe() Probe { return storageCapacityProbe{} }

func (storageCapacityProbe) Name() string { return StorageCapacityProbeName }

func (storageCapacityProbe) Sample(ctx context.Context) (Value, error) {
	usages, err := readDiskUsages(ctx)
	if err != nil {
		return Value{}, err
	}
	var total uint64
	for _, u := range usages {
		total += u.Total
	}
	return Value{Value: total, Unit: "bytes", Type: StorageCapacityProbeName}, nil
}

type storageUsedProbe struct{}

func NewStorageUsedProbe() Probe { return storageUsedProbe{} }

func (storageUsedProbe) Name() string { return StorageUsedProbeName }

func (storageUsedProbe) Sample(ctx context.Context) (Value, error) {
	usages, err := readDiskUsages(ctx)
	if err != nil {
		return Value{}, err
	}
	var used uint64
	for _, u := range usages {
		used += u.Used
	}
	return Value{Value: used, Unit: "bytes", Type: StorageUsedProbeName}, nil
}

type storageDisksProbe struct{}

func NewStorageDisksProbe() Probe { return storageDisksProbe{} }

func (storageDisksProbe) Name() string { return StorageDisksProbeName }

func (storageDisksProbe) Sample(ctx context.Context) (Value, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return Value{}, &Error{Kind: ErrProbeFailed, Message: "disk.Partitions", Cause: err}
	}

	disks := make([]DiskStatus, 0, len(partitions))
	for _, part := range partitions {
		usage, err := disk.UsageWithContext(ctx, part.Mountpoint)
		if err != nil {
			continue
		}
		id := part.Device
		if id == "" {
			id = part.Mountpoint
		}
		disks = append(disks, DiskStatus{ID: id, Status: diskStatusFor(usage.UsedPercent)})
	}
	if len(disks) == 0 {
		return Value{}, &Error{Kind: ErrProbeFailed, Message: "no readable disk partitions"}
	}

	return Value{Value: disks, Type: StorageDisksProbeName}, nil
}
