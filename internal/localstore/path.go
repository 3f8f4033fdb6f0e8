package localstore

import (
	"fmt"
	"path/filepath"

	"github.com/rshuffle/worker/internal/shuffle"
)

// PartitionDir returns the appId/shuffleId/partitionId-partitionId
// directory prefix named in the on-disk file format.
func PartitionDir(uid shuffle.PartitionedUID) string {
	return filepath.Join(
		uid.AppID,
		fmt.Sprintf("%d", uid.ShuffleID),
		fmt.Sprintf("%d-%d", uid.PartitionID, uid.PartitionID),
	)
}

// DataPath returns the data file path for uid under this worker's id.
func DataPath(uid shuffle.PartitionedUID, workerID string) string {
	return filepath.Join(PartitionDir(uid), workerID+".data")
}

// IndexPath returns the index file path for uid under this worker's id.
func IndexPath(uid shuffle.PartitionedUID, workerID string) string {
	return filepath.Join(PartitionDir(uid), workerID+".index")
}

// AppDir returns the top-level directory for an app, used by purge to
// delete every shuffle at once.
func AppDir(appID string) string {
	return appID
}

// ShuffleDir returns the directory for one shuffle within an app.
func ShuffleDir(appID string, shuffleID int32) string {
	return filepath.Join(appID, fmt.Sprintf("%d", shuffleID))
}
