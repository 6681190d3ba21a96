package interfaces

// APIHandler is implemented by every client-facing protocol handler.
type APIHandler interface {
	// HandlerType names the client protocol, e.g. "claude".
	HandlerType() string
	// Models lists the models the handler advertises.
	Models() []map[string]any
}
