package tracing

// Span names emitted by the registry store.
const (
	SpanPublish          = "registry.publish"
	SpanUpdateProperties = "registry.update_properties"
	SpanUnregister       = "registry.unregister"
	SpanStressRun        = "stress.run"
)

// Attribute keys.
const (
	AttrRegistrationID = "registry.id"
	AttrPayloadType    = "registry.type"
	AttrPropertyCount  = "registry.props"
	AttrStoreSize      = "registry.size"

	AttrStressProducers = "stress.producers"
	AttrStressConsumers = "stress.consumers"
	AttrStressOps       = "stress.ops"
)
