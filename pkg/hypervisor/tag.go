package hypervisor

import "context"

// AddTag adds a tag to a hypervisor object, mirroring the v1 client's
// tag.add call.
func (c *Client) AddTag(ctx context.Context, ref, tag string) error {
	var ok bool
	return c.Call(ctx, "tag.add", map[string]any{"id": ref, "tag": tag}, &ok)
}

// RemoveTag removes a tag from a hypervisor object.
func (c *Client) RemoveTag(ctx context.Context, ref, tag string) error {
	var ok bool
	return c.Call(ctx, "tag.remove", map[string]any{"id": ref, "tag": tag}, &ok)
}

// SetObjectProperties replaces a set of top-level object fields in one
// call (e.g. name_label on a restored VM).
func (c *Client) SetObjectProperties(ctx context.Context, ref string, properties map[string]any) error {
	var ok bool
	params := map[string]any{"id": ref}
	for k, v := range properties {
		params[k] = v
	}
	return c.Call(ctx, "vm.set", params, &ok)
}

// UpdateObjectMapProperty patches entries of a map-valued object field
// (other_config, tags keyed by name). A nil value removes the key.
func (c *Client) UpdateObjectMapProperty(ctx context.Context, ref, property string, updates map[string]*string) error {
	patch := make(map[string]any, len(updates))
	for k, v := range updates {
		if v == nil {
			patch[k] = nil
			continue
		}
		patch[k] = *v
	}

	var ok bool
	return c.Call(ctx, "vm.set", map[string]any{
		"id":   ref,
		property: patch,
	}, &ok)
}
