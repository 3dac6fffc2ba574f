package audit

import "maps"

// WithResource sets the resource type and id the action touched.
func WithResource(resource, id string) EventOption {
	return func(e *Event) {
		e.Resource = resource
		e.ResourceID = id
	}
}

// WithMetadata adds a single metadata key.
func WithMetadata(key string, value any) EventOption {
	return func(e *Event) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[key] = value
	}
}

// WithMetadataMap merges the given map into event metadata.
func WithMetadataMap(m map[string]any) EventOption {
	return func(e *Event) {
		if len(m) == 0 {
			return
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]any, len(m))
		}
		maps.Copy(e.Metadata, m)
	}
}

// WithTenant overrides the tenant id taken from context.
func WithTenant(tenantID string) EventOption {
	return func(e *Event) {
		e.TenantID = tenantID
	}
}

// WithResult overrides the result. LogError with a business rejection
// typically passes ResultFailure here.
func WithResult(r Result) EventOption {
	return func(e *Event) {
		e.Result = r
	}
}
