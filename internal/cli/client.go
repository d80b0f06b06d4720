package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// TraceResponse — trace из API.
type TraceResponse struct {
	TraceID   string         `json:"trace_id"`
	Summary   string         `json:"summary"`
	Steps     []StepResponse `json:"steps"`
	CreatedAt string         `json:"created_at"`
}

// StepResponse — шаг trace из API.
type StepResponse struct {
	ActionID  string `json:"action_id"`
	Action    string `json:"action"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Reasoning string `json:"reasoning,omitempty"`
	SpanID    string `json:"span_id,omitempty"`
	Terminal  bool   `json:"terminal,omitempty"`
}

// SpanResponse — span из API.
type SpanResponse struct {
	ID            string         `json:"id"`
	TraceID       string         `json:"trace_id"`
	ActionID      string         `json:"action_id,omitempty"`
	Step          string         `json:"step"`
	Parent        string         `json:"parent,omitempty"`
	Timestamp     string         `json:"timestamp"`
	Summary       string         `json:"summary"`
	Meta          map[string]any `json:"meta,omitempty"`
	Status        string         `json:"status,omitempty"`
	CompletedAt   string         `json:"completed_at,omitempty"`
	ResultSummary string         `json:"result_summary,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
}

// PendingResponse — запись очереди из API.
type PendingResponse struct {
	TraceID   string         `json:"trace_id"`
	ActionID  string         `json:"action_id"`
	SpanID    string         `json:"span_id"`
	Action    string         `json:"action"`
	Summary   string         `json:"summary"`
	CreatedAt string         `json:"created_at"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// LogEntryResponse — запись журнала движка из API.
type LogEntryResponse struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
	Step      string `json:"step"`
	TraceID   string `json:"trace_id,omitempty"`
	ActionID  string `json:"action_id,omitempty"`
	Message   string `json:"message"`
}

// StatusResponse — сводка состояния движка из API.
type StatusResponse struct {
	Traces  int                  `json:"traces"`
	Pending int                  `json:"pending"`
	Steps   []StepStatusResponse `json:"steps"`
}

// StepStatusResponse — состояние диспетчеризации одного типа шага.
type StepStatusResponse struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Processed int    `json:"processed"`
	InFlight  int    `json:"in_flight"`
}

// EventAccepted — результат приёма события.
type EventAccepted struct {
	TraceID   string `json:"trace_id,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

// --- Request types ---

// SendEventRequest — приём внешнего события.
type SendEventRequest struct {
	ExternalID string         `json:"external_id,omitempty"`
	Kind       string         `json:"kind,omitempty"`
	Summary    string         `json:"summary"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Autopilot API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Traces ---

// ListTraces возвращает все traces.
func (c *Client) ListTraces() ([]TraceResponse, error) {
	var traces []TraceResponse
	err := c.list("/api/v1/traces", nil, &traces)
	return traces, err
}

// GetTrace возвращает trace по ID.
func (c *Client) GetTrace(id string) (*TraceResponse, error) {
	var trace TraceResponse
	err := c.get("/api/v1/traces/"+id, &trace)
	return &trace, err
}

// GetSpanChain возвращает цепочку span'ов от корня до указанного span.
func (c *Client) GetSpanChain(spanID string) ([]SpanResponse, error) {
	var spans []SpanResponse
	err := c.list("/api/v1/spans/"+spanID+"/chain", nil, &spans)
	return spans, err
}

// --- Queue / log / status ---

// ListPending возвращает очередь отложенных действий.
func (c *Client) ListPending() ([]PendingResponse, error) {
	var entries []PendingResponse
	err := c.list("/api/v1/pending", nil, &entries)
	return entries, err
}

// GetLog возвращает последние limit записей журнала движка.
func (c *Client) GetLog(limit int) ([]LogEntryResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var entries []LogEntryResponse
	err := c.list("/api/v1/log", params, &entries)
	return entries, err
}

// GetStatus возвращает сводку состояния движка.
func (c *Client) GetStatus() (*StatusResponse, error) {
	var status StatusResponse
	err := c.get("/api/v1/status", &status)
	return &status, err
}

// --- Events ---

// SendEvent отправляет событие движку. Повтор с тем же external_id
// возвращает Duplicate=true без нового trace.
func (c *Client) SendEvent(req SendEventRequest) (*EventAccepted, error) {
	var accepted EventAccepted
	err := c.post("/api/v1/events", req, &accepted)
	return &accepted, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
