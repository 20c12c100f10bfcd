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

// RecognitionSolver calls a synchronous image-recognition provider. Each
// call runs supervised in its own goroutine with a hard join timeout, so a
// hung provider cannot block the session engine.
type RecognitionSolver struct {
	endpoint    string
	key         string
	client      *http.Client
	joinTimeout time.Duration
	attempts    int
	logger      *zap.Logger
}

// NewRecognitionSolver creates a solver for the recognition provider. An
// empty key yields a solver that always reports ErrNotConfigured.
func NewRecognitionSolver(endpoint, key string, joinTimeout time.Duration, attempts int, logger *zap.Logger) *RecognitionSolver {
	if attempts <= 0 {
		attempts = 2
	}
	return &RecognitionSolver{
		endpoint:    endpoint,
		key:         key,
		client:      &http.Client{Timeout: joinTimeout},
		joinTimeout: joinTimeout,
		attempts:    attempts,
		logger:      logger,
	}
}

// Configured reports whether the provider has a service-level credential.
func (s *RecognitionSolver) Configured() bool { return s.key != "" }

// effectiveKey prefers a per-run tenant credential over the service one.
func (s *RecognitionSolver) effectiveKey(ctx context.Context) string {
	if k := watch.SolverKeysFromContext(ctx).Recognition; k != "" {
		return k
	}
	return s.key
}

type recognitionRequest struct {
	Key       string   `json:"key"`
	Type      string   `json:"type"`
	ImageData []string `json:"image_data"`
}

type recognitionResponse struct {
	Data  []string `json:"data"`
	Error string   `json:"error,omitempty"`
}

type solveResult struct {
	text string
	err  error
}

// Solve attempts the recognition call a bounded number of times. Each
// attempt is abandoned after the join timeout even if the underlying HTTP
// call has not returned.
func (s *RecognitionSolver) Solve(ctx context.Context, image []byte) (string, error) {
	key := s.effectiveKey(ctx)
	if key == "" {
		return "", ErrNotConfigured
	}

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		text, err := s.solveSupervised(ctx, key, image)
		if err == nil {
			return text, nil
		}
		lastErr = err
		s.logger.Warn("recognition solve attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("recognition solver failed after %d attempts: %w", s.attempts, lastErr)
}

func (s *RecognitionSolver) solveSupervised(ctx context.Context, key string, image []byte) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.joinTimeout)
	defer cancel()

	results := make(chan solveResult, 1)
	go func() {
		text, err := s.call(callCtx, key, image)
		results <- solveResult{text: text, err: err}
	}()

	select {
	case res := <-results:
		return res.text, res.err
	case <-callCtx.Done():
		return "", fmt.Errorf("recognition call timed out after %s", s.joinTimeout)
	}
}

func (s *RecognitionSolver) call(ctx context.Context, key string, image []byte) (string, error) {
	body := recognitionRequest{
		Key:       key,
		Type:      "textcaptcha",
		ImageData: []string{base64.StdEncoding.EncodeToString(image)},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("recognition provider status %d", resp.StatusCode)
	}

	var parsed recognitionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode recognition response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("recognition provider error: %s", parsed.Error)
	}
	if len(parsed.Data) == 0 || parsed.Data[0] == "" {
		return "", fmt.Errorf("recognition provider returned no solution")
	}
	return parsed.Data[0], nil
}
