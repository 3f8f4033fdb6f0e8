//go:build unix

package localstore

import "golang.org/x/sys/unix"

// StatfsUsage reports total/available bytes for root via statfs(2).
func StatfsUsage(root string) (total, available uint64, err error) {
	var st unix.Statfs_t

	if err := unix.Statfs(root, &st); err != nil {
		return 0, 0, err
	}

	total = uint64(st.Blocks) * uint64(st.Bsize)   //nolint:gosec // Bsize/Blocks are platform-sized, conversion is intentional
	available = uint64(st.Bavail) * uint64(st.Bsize)

	return total, available, nil
}
