package schema

// Event type constants published on the event hub.
const (
	EventGraphConverted  = "graph.converted"
	EventGraphRejected   = "graph.rejected"
	EventGraphImported   = "graph.imported"
	EventGraphSaved      = "graph.saved"
	EventGraphDeleted    = "graph.deleted"
	EventPositionUpdated = "position.updated"
	EventGraphsPurged    = "graphs.purged"
)
