package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/asinscrape/internal/api"
	"github.com/jonesrussell/asinscrape/internal/domain"
	"github.com/jonesrussell/asinscrape/internal/logger"
	"github.com/jonesrussell/asinscrape/internal/metrics"
	"github.com/jonesrussell/asinscrape/internal/scraper"
)

// memStore is an in-memory scraper.Store for handler tests.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*domain.Job)}
}

func (s *memStore) SaveCheckpoint(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	cp.Items = append([]domain.Item(nil), job.Items...)
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memStore) LoadJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", scraper.ErrJobNotFound, id)
	}
	cp := *job
	cp.Items = append([]domain.Item(nil), job.Items...)
	return &cp, nil
}

func (s *memStore) LoadMostRecentPaused(_ context.Context) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.Status.IsResumable() {
			cp := *job
			cp.Items = append([]domain.Item(nil), job.Items...)
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: no paused job", scraper.ErrJobNotFound)
}

// slowFetcher keeps a job active long enough for the test to observe it.
type slowFetcher struct{}

func (slowFetcher) Fetch(ctx context.Context, asin string) (*domain.Product, error) {
	select {
	case <-time.After(50 * time.Millisecond):
		return &domain.Product{ASIN: asin, Title: "Product"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestRouter(t *testing.T) (*gin.Engine, *scraper.Controller) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	controller := scraper.NewController(
		scraper.ControllerConfig{
			Batch: scraper.BatchConfig{BatchSize: 10, Concurrency: 2, MaxAttempts: 2},
			Health: scraper.HealthConfig{
				WindowSize:         10,
				DegradedThreshold:  0.25,
				UnhealthyThreshold: 0.5,
			},
			CheckpointRetries: 1,
		},
		newMemStore(),
		slowFetcher{},
		&nullProductStore{},
		nil,
		metrics.New(),
		logger.NewNoOp(),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = controller.Shutdown(ctx)
	})

	handler := api.NewScrapeHandler(controller, metrics.New(), logger.NewNoOp())
	return api.NewRouter(handler, false), controller
}

type nullProductStore struct{}

func (nullProductStore) SaveProduct(_ context.Context, product *domain.Product) (string, error) {
	return "product:" + product.ASIN, nil
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestStartScrape(t *testing.T) {
	t.Parallel()

	t.Run("accepts valid request", func(t *testing.T) {
		t.Parallel()

		router, _ := newTestRouter(t)
		w := doJSON(router, http.MethodPost, "/api/v1/scrape", map[string]any{
			"asins": []string{"B08N5WRWNW", "bogus"},
		})
		require.Equal(t, http.StatusAccepted, w.Code)

		var resp api.JobResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotNil(t, resp.Job)
		assert.NotEmpty(t, resp.Job.ID)
		assert.Equal(t, 1, resp.Counts.Total)
		assert.Equal(t, []string{"bogus"}, resp.RejectedASINs)
	})

	t.Run("rejects missing body", func(t *testing.T) {
		t.Parallel()

		router, _ := newTestRouter(t)
		w := doJSON(router, http.MethodPost, "/api/v1/scrape", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects request with no valid ASINs", func(t *testing.T) {
		t.Parallel()

		router, _ := newTestRouter(t)
		w := doJSON(router, http.MethodPost, "/api/v1/scrape", map[string]any{
			"asins": []string{"bogus"},
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "rejected_asins")
	})

	t.Run("conflicts while a job is active", func(t *testing.T) {
		t.Parallel()

		router, _ := newTestRouter(t)
		first := doJSON(router, http.MethodPost, "/api/v1/scrape", map[string]any{
			"asins": []string{"B08N5WRWNW"},
		})
		require.Equal(t, http.StatusAccepted, first.Code)

		second := doJSON(router, http.MethodPost, "/api/v1/scrape", map[string]any{
			"asins": []string{"B07XJ8C8F5"},
		})
		require.Equal(t, http.StatusConflict, second.Code)
		assert.Contains(t, second.Body.String(), "active_job_id")
	})
}

func TestPauseAndStopScrape(t *testing.T) {
	t.Parallel()

	t.Run("pause without a job", func(t *testing.T) {
		t.Parallel()

		router, _ := newTestRouter(t)
		w := doJSON(router, http.MethodPost, "/api/v1/scrape/pause", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("pause then stop an active job", func(t *testing.T) {
		t.Parallel()

		router, _ := newTestRouter(t)
		start := doJSON(router, http.MethodPost, "/api/v1/scrape", map[string]any{
			"asins": []string{"B08N5WRWNW", "B07XJ8C8F5"},
		})
		require.Equal(t, http.StatusAccepted, start.Code)

		pause := doJSON(router, http.MethodPost, "/api/v1/scrape/pause", nil)
		require.Equal(t, http.StatusOK, pause.Code)

		var resp api.JobResponse
		require.NoError(t, json.Unmarshal(pause.Body.Bytes(), &resp))
		assert.Equal(t, domain.JobStatusPausing, resp.Job.Status)

		stop := doJSON(router, http.MethodPost, "/api/v1/scrape/stop", nil)
		require.Equal(t, http.StatusOK, stop.Code)
		require.NoError(t, json.Unmarshal(stop.Body.Bytes(), &resp))
		assert.Equal(t, domain.JobStatusStopping, resp.Job.Status)
	})
}

func TestResumeScrape(t *testing.T) {
	t.Parallel()

	t.Run("nothing to resume", func(t *testing.T) {
		t.Parallel()

		router, _ := newTestRouter(t)
		w := doJSON(router, http.MethodPost, "/api/v1/scrape/resume", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown job id", func(t *testing.T) {
		t.Parallel()

		router, _ := newTestRouter(t)
		w := doJSON(router, http.MethodPost, "/api/v1/scrape/resume", map[string]any{
			"job_id": "missing",
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGetCurrentJob(t *testing.T) {
	t.Parallel()

	t.Run("404 when no job exists", func(t *testing.T) {
		t.Parallel()

		router, _ := newTestRouter(t)
		w := doJSON(router, http.MethodGet, "/api/v1/scrape/current", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("returns active job snapshot", func(t *testing.T) {
		t.Parallel()

		router, _ := newTestRouter(t)
		start := doJSON(router, http.MethodPost, "/api/v1/scrape", map[string]any{
			"asins": []string{"B08N5WRWNW"},
		})
		require.Equal(t, http.StatusAccepted, start.Code)

		w := doJSON(router, http.MethodGet, "/api/v1/scrape/current", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp api.JobResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Counts.Total)
	})
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t)

	w := doJSON(router, http.MethodGet, "/api/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetScraperHealth(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t)
	w := doJSON(router, http.MethodGet, "/api/v1/health/scraper", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Health  domain.HealthSnapshot  `json:"health"`
		Metrics metrics.SnapshotCounts `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.HealthStatusHealthy, resp.Health.Status)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t)
	w := doJSON(router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
