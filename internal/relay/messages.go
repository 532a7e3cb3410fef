// Package relay lets clients on the internet reach a hub behind NAT. The hub
// runs an Agent that keeps a WebSocket open to a public Server; the Server
// forwards client requests over it and waits for the agent's reply.
package relay

// ServerIDHeader selects the hub a relayed request is meant for
const ServerIDHeader = "X-Server-ID"

const (
	typeRegister = "register"
	typeRequest  = "request"
	typeResponse = "response"
)

type registerMsg struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type requestMsg struct {
	Type    string            `json:"type"`
	ReqID   string            `json:"reqId"`
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
	Body    interface{}       `json:"body"`
}

type responseMsg struct {
	Type   string      `json:"type"`
	ReqID  string      `json:"reqId"`
	Status int         `json:"status"`
	Body   interface{} `json:"body"`
}

// envelope peeks at the type of an incoming frame
type envelope struct {
	Type string `json:"type"`
}
