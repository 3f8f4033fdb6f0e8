package remotestore

import (
	"fmt"
	"path"

	"github.com/rshuffle/worker/internal/shuffle"
)

// partitionDir mirrors the local file store's appId/shuffleId/partitionId-partitionId
// layout, rooted at the app's remote storage root instead of a disk.
func partitionDir(uid shuffle.PartitionedUID) string {
	return path.Join(
		uid.AppID,
		fmt.Sprintf("%d", uid.ShuffleID),
		fmt.Sprintf("%d-%d", uid.PartitionID, uid.PartitionID),
	)
}

func dataPath(uid shuffle.PartitionedUID, workerID string) string {
	return path.Join(partitionDir(uid), workerID+".data")
}

func indexPath(uid shuffle.PartitionedUID, workerID string) string {
	return path.Join(partitionDir(uid), workerID+".index")
}

func appDir(appID string) string {
	return appID
}

func shuffleDir(appID string, shuffleID int32) string {
	return path.Join(appID, fmt.Sprintf("%d", shuffleID))
}
