package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unishark/portalwatch/internal/watch"
)

func fastTaskSolver(endpoint, key string, budget time.Duration) *TaskAPISolver {
	s := NewTaskAPISolver(endpoint, key, budget, zap.NewNop())
	s.intervals = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	return s
}

func TestTaskAPISolverSolves(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/createTask":
			var req createTaskRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "k1", req.ClientKey)
			require.Equal(t, "ImageToTextTask", req.Task.Type)
			require.NotEmpty(t, req.Task.Body)
			json.NewEncoder(w).Encode(createTaskResponse{TaskID: 42})
		case "/getTaskResult":
			if polls.Add(1) < 2 {
				json.NewEncoder(w).Encode(map[string]string{"status": "processing"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"status":   "ready",
				"solution": map[string]string{"text": "XK4P9"},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	s := fastTaskSolver(srv.URL, "k1", time.Second)
	text, err := s.Solve(context.Background(), []byte("png"))
	require.NoError(t, err)
	require.Equal(t, "XK4P9", text)
}

func TestTaskAPISolverRejectedTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(createTaskResponse{ErrorID: 11, ErrorDescription: "zero balance"})
	}))
	defer srv.Close()

	s := fastTaskSolver(srv.URL, "k1", time.Second)
	_, err := s.Solve(context.Background(), []byte("png"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "zero balance")
}

func TestTaskAPISolverBudgetExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/createTask" {
			json.NewEncoder(w).Encode(createTaskResponse{TaskID: 1})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "processing"})
	}))
	defer srv.Close()

	s := NewTaskAPISolver(srv.URL, "k1", 20*time.Millisecond, zap.NewNop())
	s.intervals = []time.Duration{50 * time.Millisecond}
	_, err := s.Solve(context.Background(), []byte("png"))
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTaskAPISolverNotConfigured(t *testing.T) {
	s := fastTaskSolver("http://unused", "", time.Second)
	_, err := s.Solve(context.Background(), []byte("png"))
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestTaskAPISolverTenantKeyOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/createTask":
			var req createTaskRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "tenant-key", req.ClientKey)
			json.NewEncoder(w).Encode(createTaskResponse{TaskID: 7})
		case "/getTaskResult":
			var req taskResultRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "tenant-key", req.ClientKey)
			json.NewEncoder(w).Encode(map[string]any{
				"status":   "ready",
				"solution": map[string]string{"text": "QQ123"},
			})
		}
	}))
	defer srv.Close()

	// No service-level key; the per-run tenant key alone enables the solver.
	s := fastTaskSolver(srv.URL, "", time.Second)
	ctx := watch.WithSolverKeys(context.Background(), watch.SolverKeys{TaskAPI: "tenant-key"})
	text, err := s.Solve(ctx, []byte("png"))
	require.NoError(t, err)
	require.Equal(t, "QQ123", text)
}

func TestRecognitionSolverSolves(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req recognitionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "k2", req.Key)
		require.Equal(t, "textcaptcha", req.Type)
		require.Len(t, req.ImageData, 1)
		json.NewEncoder(w).Encode(recognitionResponse{Data: []string{"ZZ881"}})
	}))
	defer srv.Close()

	s := NewRecognitionSolver(srv.URL, "k2", time.Second, 2, zap.NewNop())
	text, err := s.Solve(context.Background(), []byte("png"))
	require.NoError(t, err)
	require.Equal(t, "ZZ881", text)
}

func TestRecognitionSolverTenantKeyOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req recognitionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "tenant-key", req.Key)
		json.NewEncoder(w).Encode(recognitionResponse{Data: []string{"AB777"}})
	}))
	defer srv.Close()

	s := NewRecognitionSolver(srv.URL, "service-key", time.Second, 1, zap.NewNop())
	ctx := watch.WithSolverKeys(context.Background(), watch.SolverKeys{Recognition: "tenant-key"})
	text, err := s.Solve(ctx, []byte("png"))
	require.NoError(t, err)
	require.Equal(t, "AB777", text)
}

func TestRecognitionSolverRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(recognitionResponse{Error: "invalid image"})
	}))
	defer srv.Close()

	s := NewRecognitionSolver(srv.URL, "k2", time.Second, 2, zap.NewNop())
	_, err := s.Solve(context.Background(), []byte("png"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid image")
	require.Equal(t, int32(2), calls.Load())
}

func TestRecognitionSolverJoinTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	s := NewRecognitionSolver(srv.URL, "k2", 20*time.Millisecond, 1, zap.NewNop())
	start := time.Now()
	_, err := s.Solve(context.Background(), []byte("png"))
	require.Error(t, err)
	require.Less(t, time.Since(start), 150*time.Millisecond, "solver must not wait for the hung call")
}

type stubSolver struct {
	text string
	err  error
	used atomic.Bool
}

func (s *stubSolver) Solve(context.Context, []byte) (string, error) {
	s.used.Store(true)
	return s.text, s.err
}

func TestChainPrimaryWins(t *testing.T) {
	a := &stubSolver{text: "ABC12"}
	b := &stubSolver{text: "XYZ99"}
	chain := NewChain(zap.NewNop(), a, b)

	text, err := chain.Solve(context.Background(), []byte("png"))
	require.NoError(t, err)
	require.Equal(t, "ABC12", text)
	require.False(t, b.used.Load())
}

func TestChainFallsThroughOnError(t *testing.T) {
	a := &stubSolver{err: errors.New("polling timeout")}
	b := &stubSolver{text: "XYZ99"}
	chain := NewChain(zap.NewNop(), a, b)

	text, err := chain.Solve(context.Background(), []byte("png"))
	require.NoError(t, err)
	require.Equal(t, "XYZ99", text)
}

func TestChainSkipsUnconfiguredPrimary(t *testing.T) {
	a := &stubSolver{err: ErrNotConfigured}
	b := &stubSolver{text: "XYZ99"}
	chain := NewChain(zap.NewNop(), a, b)

	text, err := chain.Solve(context.Background(), []byte("png"))
	require.NoError(t, err)
	require.Equal(t, "XYZ99", text)
	require.True(t, b.used.Load())
}

func TestChainNothingConfigured(t *testing.T) {
	a := &stubSolver{err: ErrNotConfigured}
	b := &stubSolver{err: ErrNotConfigured}
	chain := NewChain(zap.NewNop(), a, b)

	_, err := chain.Solve(context.Background(), []byte("png"))
	require.ErrorIs(t, err, ErrSolverUnavailable)
}

func TestChainAllProvidersExhausted(t *testing.T) {
	a := &stubSolver{err: errors.New("polling timeout")}
	b := &stubSolver{err: errors.New("no result")}
	chain := NewChain(zap.NewNop(), a, b)

	_, err := chain.Solve(context.Background(), []byte("png"))
	require.ErrorIs(t, err, ErrSolverUnavailable)
	require.Contains(t, err.Error(), "no result")
}
