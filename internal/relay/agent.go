package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type AgentConfig struct {
	PublicWS   string // ws://host:port/agent
	LocalURL   string // http://127.0.0.1:8080
	AgentID    string
	RetryDelay time.Duration
}

// Agent replays relayed requests against the local HTTP server
type Agent struct {
	cfg    AgentConfig
	client *http.Client
	lg     zerolog.Logger
}

func NewAgent(cfg AgentConfig, lg zerolog.Logger) *Agent {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	cfg.LocalURL = strings.TrimRight(cfg.LocalURL, "/")
	return &Agent{
		cfg:    cfg,
		client: &http.Client{Timeout: 5 * time.Second},
		lg:     lg.With().Str("component", "relay-agent").Str("agent_id", cfg.AgentID).Logger(),
	}
}

// Run keeps a connection to the relay until ctx is cancelled
func (a *Agent) Run(ctx context.Context) {
	for {
		if err := a.runOnce(ctx); err != nil && ctx.Err() == nil {
			a.lg.Warn().Err(err).Dur("retry_in", a.cfg.RetryDelay).Msg("relay connection lost")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.RetryDelay):
		}
	}
}

func (a *Agent) runOnce(ctx context.Context) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.PublicWS, nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	var writeMu sync.Mutex
	writeJSON := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return ws.WriteJSON(v)
	}

	if err := writeJSON(registerMsg{Type: typeRegister, ID: a.cfg.AgentID}); err != nil {
		return err
	}
	a.lg.Info().Str("relay", a.cfg.PublicWS).Msg("registered with relay")

	var inflight sync.WaitGroup
	defer inflight.Wait()
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		var req requestMsg
		if err := json.Unmarshal(raw, &req); err != nil || req.Type != typeRequest {
			continue
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			if err := writeJSON(a.forward(ctx, req)); err != nil {
				a.lg.Warn().Err(err).Str("req_id", req.ReqID).Msg("write relay response")
			}
		}()
	}
}

var skipHeaders = map[string]bool{
	"Host":              true,
	"Connection":        true,
	"Content-Length":    true,
	"Upgrade":           true,
	"Transfer-Encoding": true,
	"Accept-Encoding":   true,
}

// forward performs req against the local server
func (a *Agent) forward(ctx context.Context, req requestMsg) responseMsg {
	resp := responseMsg{Type: typeResponse, ReqID: req.ReqID}

	var body io.Reader = http.NoBody
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			resp.Status, resp.Body = http.StatusBadRequest, "undecodable request body"
			return resp
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, a.cfg.LocalURL+req.Path, body)
	if err != nil {
		resp.Status, resp.Body = http.StatusBadRequest, "bad relayed request"
		return resp
	}
	for k, v := range req.Headers {
		if !skipHeaders[http.CanonicalHeaderKey(k)] {
			httpReq.Header.Set(k, v)
		}
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		a.lg.Error().Err(err).Str("path", req.Path).Msg("local request failed")
		resp.Status, resp.Body = http.StatusInternalServerError, "local request failed"
		return resp
	}
	defer httpResp.Body.Close()

	raw, _ := io.ReadAll(httpResp.Body)
	resp.Status = httpResp.StatusCode
	if len(raw) > 0 {
		var parsed interface{}
		if err := json.Unmarshal(raw, &parsed); err == nil {
			resp.Body = parsed
		} else {
			resp.Body = string(raw)
		}
	}
	return resp
}
