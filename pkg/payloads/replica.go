package payloads

import "github.com/gofrs/uuid"

// ReplicaRole distinguishes a full-mode replica from a delta-mode one;
// stamped as an ancillary tag on the replicated VM.
type ReplicaRole string

const (
	ReplicaRoleDisasterRecovery    ReplicaRole = "Disaster Recovery"
	ReplicaRoleContinuousReplication ReplicaRole = "Continuous Replication"
)

// ReplicatedVM is a VM imported into a target SR by an SR-mode fan-out
// target. It is identified purely by tags, never by a database row.
type ReplicatedVM struct {
	ID         uuid.UUID
	ScheduleID string
	SrID       string
	VmUUID     string
	Role       ReplicaRole
}
