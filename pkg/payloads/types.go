package payloads

// ResourceType represents the type field common to all hypervisor objects
// as returned by the all-objects RPC call.
type ResourceType string

const (
	ResourceTypeVM   ResourceType = "VM"
	ResourceTypeVDI  ResourceType = "VDI"
	ResourceTypeVBD  ResourceType = "VBD"
	ResourceTypeVIF  ResourceType = "VIF"
	ResourceTypeSR   ResourceType = "SR"
	ResourceTypePool ResourceType = "pool"
	ResourceTypeHost ResourceType = "host"
)
