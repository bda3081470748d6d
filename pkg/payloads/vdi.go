package payloads

import (
	"github.com/gofrs/uuid"
)

// VDI is the subset of a hypervisor VDI object the backup engine reads.
type VDI struct {
	UUID        uuid.UUID         `mapstructure:"uuid"`
	NameLabel   string            `mapstructure:"name_label"`
	Size        int64             `mapstructure:"size"`
	Usage       int64             `mapstructure:"usage"`
	VDIType     VDIType           `mapstructure:"VDI_type"`
	Missing     bool              `mapstructure:"missing"`
	Parent      *uuid.UUID        `mapstructure:"parent,omitempty"`
	Snapshots   []uuid.UUID       `mapstructure:"snapshots"`
	Tags        []string          `mapstructure:"tags"`
	OtherConfig map[string]string `mapstructure:"other_config"`
	SR          uuid.UUID         `mapstructure:"$SR"`
	VBDs        []uuid.UUID       `mapstructure:"$VBDs"`
	PoolID      uuid.UUID         `mapstructure:"$poolId"`

	Extra map[string]any `mapstructure:",remain"`
}

type VDIType string

const (
	VDITypeUser        VDIType = "user"
	VDITypeSystem      VDIType = "system"
	VDITypeSuspend     VDIType = "suspend"
	VDITypeMetadata    VDIType = "metadata"
	VDITypeHAStatefile VDIType = "ha_statefile"
	VDITypeCBTMetadata VDIType = "cbt_metadata"
)
