package payloads

import (
	"github.com/gofrs/uuid"
)

// VM is the subset of a hypervisor VM object the backup engine reads.
// Everything else the hypervisor returns rides along in Extra, so the
// core never fails to decode an object just because the hypervisor
// added a field it doesn't know about yet.
type VM struct {
	UUID         uuid.UUID         `mapstructure:"uuid"`
	NameLabel    string            `mapstructure:"name_label"`
	PowerState   string            `mapstructure:"power_state"`
	Tags         []string          `mapstructure:"tags"`
	OtherConfig  map[string]string `mapstructure:"other_config"`
	Snapshots    []uuid.UUID       `mapstructure:"$snapshots"`
	VBDs         []uuid.UUID       `mapstructure:"$VBDs"`
	PoolID       uuid.UUID         `mapstructure:"$poolId"`
	IsATemplate  bool              `mapstructure:"is_a_template"`
	IsASnapshot  bool              `mapstructure:"is_a_snapshot"`
	SnapshotOf   uuid.UUID         `mapstructure:"snapshot_of"`
	SnapshotTime APITime           `mapstructure:"snapshot_time"`

	Extra map[string]any `mapstructure:",remain"`
}

const (
	PowerStateHalted    = "Halted"
	PowerStateRunning   = "Running"
	PowerStatePaused    = "Paused"
	PowerStateSuspended = "Suspended"
)

// Tag reports whether the VM carries the given tag.
func (v VM) Tag(tag string) bool {
	for _, t := range v.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// OtherConfigValue returns an other_config entry and whether it was set.
func (v VM) OtherConfigValue(key string) (string, bool) {
	val, ok := v.OtherConfig[key]
	return val, ok
}
