package payloads

import (
	"github.com/gofrs/uuid"
)

// VBD is the subset of a hypervisor VBD (block device attachment) object
// the backup engine reads to walk from a VM to its VDIs.
type VBD struct {
	UUID     uuid.UUID `mapstructure:"uuid"`
	VM       uuid.UUID `mapstructure:"VM"`
	VDI      uuid.UUID `mapstructure:"VDI"`
	Device   string    `mapstructure:"device"`
	Bootable bool      `mapstructure:"bootable"`
	Mode     string    `mapstructure:"mode"`
	Type     string    `mapstructure:"type"`

	Extra map[string]any `mapstructure:",remain"`
}

const (
	VBDModeRO = "RO"
	VBDModeRW = "RW"
)
