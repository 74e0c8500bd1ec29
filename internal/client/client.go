// Package client talks to the board API and maps its error responses back to
// the model error types.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BuzzLyutic/kanban-board-api/internal/constraint"
	"github.com/BuzzLyutic/kanban-board-api/internal/model"
)

var (
	// ErrTransport wraps network failures. The server applies a move fully or
	// not at all, so these are safe to retry by hand.
	ErrTransport = errors.New("transport failure")
	ErrNotFound  = errors.New("not found")
)

// APIError is any non-2xx answer that has no richer model error.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Board(ctx context.Context, boardID int64) (model.BoardState, error) {
	var state model.BoardState
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/boards/%d", boardID), nil, nil, &state)
	return state, err
}

func (c *Client) Task(ctx context.Context, taskID int64) (model.Task, error) {
	var task model.Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/tasks/%d", taskID), nil, nil, &task)
	return task, err
}

func (c *Client) Constraints(ctx context.Context, boardID, taskID int64) (constraint.Result, error) {
	var res constraint.Result
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/boards/%d/constraints/%d", boardID, taskID), nil, nil, &res)
	return res, err
}

type moveBody struct {
	ColumnID          int64  `json:"column_id"`
	Position          int    `json:"position"`
	IdempotencyToken  string `json:"idempotency_token,omitempty"`
	ClientTimestampMs *int64 `json:"client_timestamp_ms,omitempty"`
}

// Move submits a move intent. A stale view comes back as *model.ConflictError
// carrying the server's current state.
func (c *Client) Move(ctx context.Context, req model.MoveRequest) (model.MoveResult, error) {
	var res model.MoveResult
	body := moveBody{
		ColumnID:          req.ColumnID,
		Position:          req.Position,
		IdempotencyToken:  req.IdempotencyToken,
		ClientTimestampMs: req.ClientObservedAtMs,
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/tasks/%d/move", req.TaskID), body, nil, &res)
	return res, err
}

type createBody struct {
	ColumnID  int64          `json:"column_id"`
	Title     string         `json:"title"`
	Priority  model.Priority `json:"priority,omitempty"`
	Locked    bool           `json:"locked"`
	CanMoveTo []int64        `json:"can_move_to,omitempty"`
}

func (c *Client) CreateTask(ctx context.Context, nt model.NewTask, idempKey string) (model.Task, error) {
	var task model.Task
	var headers http.Header
	if idempKey != "" {
		headers = http.Header{"Idempotency-Key": []string{idempKey}}
	}
	body := createBody{
		ColumnID:  nt.ColumnID,
		Title:     nt.Title,
		Priority:  nt.Priority,
		Locked:    nt.Locked,
		CanMoveTo: nt.CanMoveTo,
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/boards/%d/tasks", nt.BoardID), body, headers, &task)
	return task, err
}

func (c *Client) DeleteTask(ctx context.Context, taskID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/tasks/%d", taskID), nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in any, headers http.Header, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}
	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

type conflictState struct {
	Task  model.Task       `json:"task"`
	Board model.BoardState `json:"board"`
}

// errorBody covers every error shape the API writes.
type errorBody struct {
	Error            string        `json:"error"`
	Reason           string        `json:"reason"`
	Conflict         bool          `json:"conflict"`
	Message          string        `json:"message"`
	CurrentState     conflictState `json:"current_state"`
	TimeDifferenceMs int64         `json:"time_difference_ms"`
}

func decodeError(status int, data []byte) error {
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(data))}
	}

	switch {
	case status == http.StatusConflict && body.Conflict:
		return &model.ConflictError{
			Task:             body.CurrentState.Task,
			Board:            body.CurrentState.Board,
			TimeDifferenceMs: body.TimeDifferenceMs,
		}
	case status == http.StatusUnprocessableEntity:
		return &model.PolicyError{Reason: body.Reason}
	case status == http.StatusBadRequest:
		return &model.ValidationError{Reason: body.Error}
	}
	msg := body.Error
	if msg == "" {
		msg = body.Message
	}
	return &APIError{StatusCode: status, Message: msg}
}
