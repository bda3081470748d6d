package payloads

// Snapshot is a hypervisor-owned VM clone created by the worker. It shares
// the VM shape exactly: the core only ever tells them apart by IsASnapshot
// and the three xo:backup:* tags stamped on creation.
type Snapshot = VM

const (
	TagBackupJob      = "xo:backup:job"
	TagBackupSchedule = "xo:backup:schedule"
	TagBackupVM       = "xo:backup:vm"
	TagBackupSR       = "xo:backup:sr"
)

// ManagedTags returns the xo:backup:* other_config keys that must be
// stamped on a snapshot and stripped from the live VM before
// snapshotting.
func ManagedTags() []string {
	return []string{TagBackupJob, TagBackupSchedule, TagBackupVM}
}
