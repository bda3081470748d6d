package payloads

import (
	"github.com/gofrs/uuid"
)

// VIF is the subset of a hypervisor VIF (virtual network interface) object
// the backup engine reads when recording a VM's network attachments in
// delta metadata.
type VIF struct {
	UUID    uuid.UUID `mapstructure:"uuid"`
	VM      uuid.UUID `mapstructure:"VM"`
	Network uuid.UUID `mapstructure:"network"`
	MAC     string    `mapstructure:"MAC"`
	Device  string    `mapstructure:"device"`

	Extra map[string]any `mapstructure:",remain"`
}
