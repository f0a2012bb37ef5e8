package rtconn

// State is the connection state of a Service.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateConnecting    State = "CONNECTING"
	StateConnected     State = "CONNECTED"
	StateTerminated    State = "TERMINATED"
)
