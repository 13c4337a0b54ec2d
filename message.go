package offcache

// MessageSkipWaiting asks a waiting controller to take over immediately.
const MessageSkipWaiting = "SKIP_WAITING"

// Message is a control message posted by a client page.
type Message struct {
	Type string `json:"type"`
}

// ControllerChange is sent to subscribers when clients are handed to a new
// controller.
type ControllerChange struct {
	From    string `json:"from,omitempty"` // previous version; "" on first activation
	To      string `json:"to"`
	Clients int    `json:"clients"` // clients moved to the new controller
}
