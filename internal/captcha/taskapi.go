package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/unishark/portalwatch/internal/watch"
)

// TaskAPISolver submits challenges to a createTask/getTaskResult style
// solving service and polls for the result with geometrically increasing
// intervals under a total time budget.
type TaskAPISolver struct {
	endpoint string
	key      string
	client   *http.Client
	budget   time.Duration
	// intervals between result polls, overridable in tests
	intervals []time.Duration
	logger    *zap.Logger
}

// NewTaskAPISolver creates a solver for the task-based provider. An empty
// key yields a solver that always reports ErrNotConfigured.
func NewTaskAPISolver(endpoint, key string, budget time.Duration, logger *zap.Logger) *TaskAPISolver {
	return &TaskAPISolver{
		endpoint: endpoint,
		key:      key,
		client:   &http.Client{Timeout: 15 * time.Second},
		budget:   budget,
		intervals: []time.Duration{
			2 * time.Second, 3 * time.Second, 4 * time.Second, 5 * time.Second,
			6 * time.Second, 8 * time.Second, 10 * time.Second,
		},
		logger: logger,
	}
}

// Configured reports whether the provider has a service-level credential.
func (s *TaskAPISolver) Configured() bool { return s.key != "" }

// effectiveKey prefers a per-run tenant credential over the service one.
func (s *TaskAPISolver) effectiveKey(ctx context.Context) string {
	if k := watch.SolverKeysFromContext(ctx).TaskAPI; k != "" {
		return k
	}
	return s.key
}

type createTaskRequest struct {
	ClientKey string   `json:"clientKey"`
	Task      taskSpec `json:"task"`
}

type taskSpec struct {
	Type     string `json:"type"`
	Body     string `json:"body"`
	Priority int    `json:"priority"`
}

type createTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           int64  `json:"taskId"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type taskResultResponse struct {
	Status   string `json:"status"`
	Solution struct {
		Text string `json:"text"`
	} `json:"solution"`
}

// Solve submits the challenge image and polls until the solution is ready
// or the budget runs out.
func (s *TaskAPISolver) Solve(ctx context.Context, image []byte) (string, error) {
	key := s.effectiveKey(ctx)
	if key == "" {
		return "", ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	taskID, err := s.createTask(ctx, key, image)
	if err != nil {
		return "", err
	}

	for _, interval := range s.intervals {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("captcha task polling: %w", ctx.Err())
		case <-time.After(interval):
		}

		text, done, err := s.pollResult(ctx, key, taskID)
		if err != nil {
			return "", err
		}
		if done {
			s.logger.Debug("captcha task solved", zap.Int64("task_id", taskID))
			return text, nil
		}
	}
	return "", fmt.Errorf("captcha task %d still processing after final poll", taskID)
}

func (s *TaskAPISolver) createTask(ctx context.Context, key string, image []byte) (int64, error) {
	req := createTaskRequest{
		ClientKey: key,
		Task: taskSpec{
			Type:     "ImageToTextTask",
			Body:     base64.StdEncoding.EncodeToString(image),
			Priority: 1,
		},
	}

	var resp createTaskResponse
	if err := s.post(ctx, s.endpoint+"/createTask", req, &resp); err != nil {
		return 0, fmt.Errorf("create captcha task: %w", err)
	}
	if resp.ErrorID != 0 {
		return 0, fmt.Errorf("captcha task rejected: %s", resp.ErrorDescription)
	}
	return resp.TaskID, nil
}

func (s *TaskAPISolver) pollResult(ctx context.Context, key string, taskID int64) (string, bool, error) {
	var resp taskResultResponse
	if err := s.post(ctx, s.endpoint+"/getTaskResult", taskResultRequest{ClientKey: key, TaskID: taskID}, &resp); err != nil {
		return "", false, fmt.Errorf("poll captcha task: %w", err)
	}
	switch resp.Status {
	case "ready":
		if resp.Solution.Text == "" {
			return "", false, fmt.Errorf("captcha task %d ready with empty solution", taskID)
		}
		return resp.Solution.Text, true, nil
	case "processing":
		return "", false, nil
	default:
		return "", false, fmt.Errorf("captcha task %d unexpected status %q", taskID, resp.Status)
	}
}

func (s *TaskAPISolver) post(ctx context.Context, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
