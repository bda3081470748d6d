package hypervisor

import (
	"context"
	"fmt"

	"github.com/vatesfr/xobackup/pkg/payloads"
)

// GetObject returns the cached view of a VM object, refreshing the
// whole cache only when ref is not cached yet; a cached object is
// returned as is (the engine only ever awaits a refresh at an explicit
// Barrier call, per §5).
func (c *Client) GetObject(ctx context.Context, ref string) (payloads.VM, error) {
	c.mu.RLock()
	raw, ok := c.objects[ref]
	c.mu.RUnlock()
	if !ok {
		if err := c.refreshAllObjects(ctx); err != nil {
			return payloads.VM{}, err
		}
		c.mu.RLock()
		raw, ok = c.objects[ref]
		c.mu.RUnlock()
	}
	if !ok {
		return payloads.VM{}, fmt.Errorf("hypervisor: object %s not found", ref)
	}

	var vm payloads.VM
	if err := decode(raw, &vm); err != nil {
		return payloads.VM{}, fmt.Errorf("decode object %s: %w", ref, err)
	}
	return vm, nil
}

// AllObjects returns every cached VM object keyed by hypervisor ref,
// refreshing the cache first.
func (c *Client) AllObjects(ctx context.Context) (map[string]payloads.VM, error) {
	if err := c.refreshAllObjects(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]payloads.VM, len(c.objects))
	for ref, raw := range c.objects {
		if t, _ := raw["type"].(string); t != string(payloads.ResourceTypeVM) {
			continue
		}
		var vm payloads.VM
		if err := decode(raw, &vm); err != nil {
			continue
		}
		out[ref] = vm
	}
	return out, nil
}

// GetStorageRepository resolves one SR by id from the object cache.
func (c *Client) GetStorageRepository(ctx context.Context, id string) (payloads.SR, error) {
	c.mu.RLock()
	raw, ok := c.objects[id]
	c.mu.RUnlock()
	if !ok {
		if err := c.refreshAllObjects(ctx); err != nil {
			return payloads.SR{}, err
		}
		c.mu.RLock()
		raw, ok = c.objects[id]
		c.mu.RUnlock()
	}
	if !ok {
		return payloads.SR{}, fmt.Errorf("hypervisor: storage repository %s not found", id)
	}

	var sr payloads.SR
	if err := decode(raw, &sr); err != nil {
		return payloads.SR{}, fmt.Errorf("decode storage repository %s: %w", id, err)
	}
	return sr, nil
}
