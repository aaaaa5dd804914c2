package telemetry

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"
)

// LokiClient ships telemetry lines to a Grafana Loki endpoint. When not
// configured it is a no-op, so the sidecar works fully offline.
type LokiClient struct {
	url        string
	username   string
	apiKey     string
	httpClient *http.Client
	enabled    bool
	appName    string
	instanceID string
}

// LokiConfig carries the push endpoint settings. Empty URL disables the
// client.
type LokiConfig struct {
	URL        string
	Username   string
	APIKey     string
	AppName    string
	InstanceID string
}

// Loki Push API format
type lokiPushRequest struct {
	Streams []lokiStream `json:"streams"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// NewLoki creates a Loki push client from the given config.
func NewLoki(cfg LokiConfig) *LokiClient {
	appName := cfg.AppName
	if appName == "" {
		appName = "mlbridge"
	}
	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = "local"
	}

	if cfg.URL == "" {
		log.Println("Loki not configured, telemetry push disabled")
		return &LokiClient{enabled: false, appName: appName, instanceID: instanceID}
	}

	return &LokiClient{
		url:        cfg.URL + "/loki/api/v1/push",
		username:   cfg.Username,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		enabled:    true,
		appName:    appName,
		instanceID: instanceID,
	}
}

// Push sends one labeled JSON line to Loki asynchronously.
func (c *LokiClient) Push(labels map[string]string, data map[string]any) {
	if c == nil || !c.enabled {
		return
	}
	go c.push(labels, data)
}

func (c *LokiClient) push(labels map[string]string, data map[string]any) {
	if labels == nil {
		labels = make(map[string]string)
	}
	labels["app"] = c.appName
	labels["instance"] = c.instanceID

	dataJSON, err := json.Marshal(data)
	if err != nil {
		log.Printf("Loki: failed to marshal data: %v", err)
		return
	}

	timestamp := strconv.FormatInt(time.Now().UnixNano(), 10)

	req := lokiPushRequest{
		Streams: []lokiStream{
			{
				Stream: labels,
				Values: [][]string{
					{timestamp, string(dataJSON)},
				},
			},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		log.Printf("Loki: failed to marshal request: %v", err)
		return
	}

	httpReq, err := http.NewRequest("POST", c.url, bytes.NewReader(body))
	if err != nil {
		log.Printf("Loki: failed to create request: %v", err)
		return
	}

	if c.username != "" {
		httpReq.SetBasicAuth(c.username, c.apiKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Printf("Loki: failed to send: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("Loki: unexpected status code: %d", resp.StatusCode)
	}
}
