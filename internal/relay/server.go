package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Relay-specific status codes seen by clients
const (
	StatusMissingServerID = 490
	StatusAgentOffline    = 491
)

// DefaultTimeout is how long a client waits for its agent to answer
const DefaultTimeout = 10 * time.Second

type agentConn struct {
	id string
	ws *websocket.Conn
	mu sync.Mutex
}

func (a *agentConn) send(v interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ws.WriteJSON(v)
}

// Server is the public side of the relay
type Server struct {
	upgrader websocket.Upgrader
	timeout  time.Duration
	lg       zerolog.Logger

	agentsMu sync.Mutex
	agents   map[string]*agentConn

	pendingMu sync.Mutex
	pending   map[string]chan responseMsg
}

func NewServer(timeout time.Duration, lg zerolog.Logger) *Server {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		timeout: timeout,
		lg:      lg.With().Str("component", "relay").Logger(),
		agents:  make(map[string]*agentConn),
		pending: make(map[string]chan responseMsg),
	}
}

// RegisterRoutes mounts the agent endpoint and forwards everything else
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/agent", s.handleAgent)
	r.NoRoute(s.handleClient)
}

func (s *Server) handleAgent(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.lg.Warn().Err(err).Msg("agent upgrade failed")
		return
	}
	defer ws.Close()

	var agent *agentConn
	defer func() {
		if agent == nil {
			return
		}
		s.agentsMu.Lock()
		if s.agents[agent.id] == agent {
			delete(s.agents, agent.id)
		}
		s.agentsMu.Unlock()
		s.lg.Info().Str("agent_id", agent.id).Msg("agent disconnected")
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		switch env.Type {
		case typeRegister:
			var reg registerMsg
			if err := json.Unmarshal(raw, &reg); err != nil || reg.ID == "" || agent != nil {
				continue
			}
			agent = &agentConn{id: reg.ID, ws: ws}
			s.agentsMu.Lock()
			s.agents[reg.ID] = agent
			s.agentsMu.Unlock()
			s.lg.Info().Str("agent_id", reg.ID).Msg("agent registered")
		case typeResponse:
			var resp responseMsg
			if err := json.Unmarshal(raw, &resp); err != nil {
				continue
			}
			s.pendingMu.Lock()
			ch, ok := s.pending[resp.ReqID]
			delete(s.pending, resp.ReqID)
			s.pendingMu.Unlock()
			if ok {
				ch <- resp
			}
		}
	}
}

func (s *Server) handleClient(c *gin.Context) {
	agentID := c.GetHeader(ServerIDHeader)
	if agentID == "" {
		c.JSON(StatusMissingServerID, gin.H{"error": "Missing " + ServerIDHeader})
		return
	}

	s.agentsMu.Lock()
	agent, ok := s.agents[agentID]
	s.agentsMu.Unlock()
	if !ok {
		c.JSON(StatusAgentOffline, gin.H{"error": "Agent offline"})
		return
	}

	var body interface{}
	// requests without a JSON body are relayed with a nil body
	_ = c.ShouldBindJSON(&body)

	headers := make(map[string]string, len(c.Request.Header))
	for key, values := range c.Request.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	req := requestMsg{
		Type:    typeRequest,
		ReqID:   uuid.NewString(),
		Method:  c.Request.Method,
		Path:    c.Request.URL.RequestURI(),
		Headers: headers,
		Body:    body,
	}

	respCh := make(chan responseMsg, 1)
	s.pendingMu.Lock()
	s.pending[req.ReqID] = respCh
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, req.ReqID)
		s.pendingMu.Unlock()
	}()

	if err := agent.send(req); err != nil {
		s.lg.Warn().Err(err).Str("agent_id", agentID).Msg("forward to agent failed")
		c.JSON(StatusAgentOffline, gin.H{"error": "Agent offline"})
		return
	}

	select {
	case resp := <-respCh:
		if resp.Status < 100 || resp.Status > 999 {
			resp.Status = http.StatusBadGateway
		}
		c.JSON(resp.Status, resp.Body)
	case <-time.After(s.timeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Timeout"})
	case <-c.Request.Context().Done():
	}
}
