package payloads

import "github.com/gofrs/uuid"

// SR is the subset of a hypervisor storage-repository object the
// backup engine reads when resolving an SR-mode fan-out target.
type SR struct {
	UUID      uuid.UUID `mapstructure:"uuid"`
	NameLabel string    `mapstructure:"name_label"`
	SRType    string    `mapstructure:"SR_type"`
	PoolID    uuid.UUID `mapstructure:"$poolId"`
	Size      int64     `mapstructure:"size"`
	Usage     int64     `mapstructure:"usage"`
	Tags      []string  `mapstructure:"tags"`

	Extra map[string]any `mapstructure:",remain"`
}
