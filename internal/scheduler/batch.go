package scheduler

import "github.com/liliang-cn/gosinble/pkg/types"

// Batches splits hosts into groups per a play's Serial spec. A zero
// Serial runs every host in one batch. Sizes, once exhausted, repeat
// the last entry for the remaining hosts (Ansible's serial: [1, 5, "100%"]
// behaviour, minus the percentage-in-list case which is folded into a
// plain size up front by resolveSizes).
func Batches(hosts []types.Host, serial types.Serial) [][]types.Host {
	if serial.IsZero() || len(hosts) == 0 {
		return [][]types.Host{hosts}
	}

	sizes := resolveSizes(len(hosts), serial)
	var batches [][]types.Host
	i := 0
	for i < len(hosts) {
		idx := len(batches)
		if idx >= len(sizes) {
			idx = len(sizes) - 1
		}
		size := sizes[idx]
		if size <= 0 {
			size = len(hosts) - i
		}
		end := i + size
		if end > len(hosts) {
			end = len(hosts)
		}
		batches = append(batches, hosts[i:end])
		i = end
	}
	return batches
}

func resolveSizes(total int, serial types.Serial) []int {
	switch {
	case len(serial.Sizes) > 0:
		return serial.Sizes
	case serial.Percentage > 0:
		n := int(float64(total) * serial.Percentage / 100.0)
		if n < 1 {
			n = 1
		}
		return []int{n}
	case serial.Absolute > 0:
		return []int{serial.Absolute}
	default:
		return []int{total}
	}
}
