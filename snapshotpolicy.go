package eventsource

// SnapshotPolicy decides if a snapshot should be taken after a save brought
// the aggregate to the given version
type SnapshotPolicy func(version Version) bool

// SnapshotEvery snapshots when the version is a multiple of n
func SnapshotEvery(n uint64) SnapshotPolicy {
	return func(version Version) bool {
		if n == 0 {
			return false
		}
		return uint64(version)%n == 0
	}
}

// SnapshotAlways snapshots after every save
func SnapshotAlways() SnapshotPolicy {
	return func(Version) bool {
		return true
	}
}
