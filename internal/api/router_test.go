package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arash/imagina/internal/config"
	"github.com/arash/imagina/internal/domain"
	"github.com/arash/imagina/internal/engine"
	"github.com/arash/imagina/internal/logger"
	"github.com/arash/imagina/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	testDomain = "acme.imagina.test"
	testSecret = "test-secret"
	testOwner  = "owner-1"
)

type stubClient struct {
	mu      sync.Mutex
	taskSeq int
}

func (c *stubClient) Imagine(_ context.Context, _, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taskSeq++
	return fmt.Sprintf("task-%d", c.taskSeq), nil
}

func (c *stubClient) Result(_ context.Context, _ string) (*domain.TaskUpdate, error) {
	return &domain.TaskUpdate{Status: "waiting", Percentage: -1}, nil
}

type stubPublisher struct{}

func (stubPublisher) Publish(_ context.Context, _ *domain.Imagination, _ string) ([]domain.ImagineResult, error) {
	results := make([]domain.ImagineResult, 4)
	for i := range results {
		results[i] = domain.ImagineResult{
			URL:    fmt.Sprintf("https://cdn.test/a_%d.png", i+1),
			Width:  1024,
			Height: 1024,
		}
	}
	return results, nil
}

type testEnv struct {
	router   *gin.Engine
	business *domain.Business
	repo     *repository.ImaginationRepository
	engine   *engine.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repository.InitDB(&config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	imaginationRepo := repository.NewImaginationRepository(db)
	businessRepo := repository.NewBusinessRepository(db)

	business := &domain.Business{
		ID:          uuid.New().String(),
		Name:        "Acme",
		Domain:      testDomain,
		OwnerUserID: testOwner,
		JWTSecret:   testSecret,
	}
	if err := businessRepo.Create(context.Background(), business); err != nil {
		t.Fatalf("failed to create business: %v", err)
	}

	log := logger.New(&logger.Config{Level: "error", Format: "text", Output: io.Discard, ServiceName: "test"})
	logger.SetDefaultLogger(log)

	eng := engine.New(imaginationRepo, &stubClient{}, stubPublisher{}, log, &engine.Config{
		PollInterval:    50 * time.Millisecond,
		MaxRetries:      5,
		CallbackBaseURL: "http://" + testDomain,
	})
	t.Cleanup(eng.Shutdown)

	cfg := &config.Config{}
	cfg.Server.Mode = gin.TestMode
	cfg.Server.CORS.AllowAllOrigins = true

	return &testEnv{
		router:   NewRouter(cfg, imaginationRepo, businessRepo, eng, log),
		business: business,
		repo:     imaginationRepo,
		engine:   eng,
	}
}

func (env *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (env *testEnv) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Host = testDomain
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decodeImagination(t *testing.T, w *httptest.ResponseRecorder) domain.Imagination {
	t.Helper()
	var imag domain.Imagination
	if err := json.Unmarshal(w.Body.Bytes(), &imag); err != nil {
		t.Fatalf("failed to decode response: %v (body %s)", err, w.Body.String())
	}
	return imag
}

func TestCreateImagination(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "user-1")

	w := env.request(t, http.MethodPost, "/api/v1/imaginations", token, map[string]interface{}{
		"prompt": "a red fox in the snow",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}

	imag := decodeImagination(t, w)
	if imag.Status != domain.StatusDraft {
		t.Errorf("status: got %s, want draft", imag.Status)
	}
	if imag.Progress != -1 {
		t.Errorf("progress: got %d, want -1", imag.Progress)
	}
	if imag.Engine != domain.EngineMidjourney {
		t.Errorf("engine: got %s, want midjourney", imag.Engine)
	}
	if imag.UserID != "user-1" {
		t.Errorf("user id: got %s", imag.UserID)
	}
	if imag.Results != nil {
		t.Errorf("results should be absent at creation, got %v", imag.Results)
	}
}

func TestCreateImagination_Validation(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "user-1")

	w := env.request(t, http.MethodPost, "/api/v1/imaginations", token, map[string]interface{}{
		"context": map[string]interface{}{"source": "test"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing prompt: got %d, want 400", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{name: "missing token", token: "", want: http.StatusUnauthorized},
		{name: "garbage token", token: "not-a-jwt", want: http.StatusUnauthorized},
		{name: "wrong secret", token: wrongSecretToken(t), want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.request(t, http.MethodGet, "/api/v1/imaginations", tt.token, nil)
			if w.Code != tt.want {
				t.Errorf("got %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func wrongSecretToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1"})
	signed, err := token.SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestUnknownHostIs404(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/imaginations", nil)
	req.Host = "unknown.example.com"
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", w.Code)
	}
}

func TestOwnerImpersonation(t *testing.T) {
	env := newTestEnv(t)

	ownerToken := env.token(t, testOwner)
	w := env.request(t, http.MethodPost, "/api/v1/imaginations?user_id=customer-7", ownerToken, map[string]interface{}{
		"prompt": "a lighthouse at dusk",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	if imag := decodeImagination(t, w); imag.UserID != "customer-7" {
		t.Errorf("user id: got %s, want customer-7", imag.UserID)
	}

	// Non-owners always act as themselves.
	userToken := env.token(t, "user-1")
	w = env.request(t, http.MethodPost, "/api/v1/imaginations?user_id=customer-7", userToken, map[string]interface{}{
		"prompt": "a lighthouse at dusk",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	if imag := decodeImagination(t, w); imag.UserID != "user-1" {
		t.Errorf("user id: got %s, want user-1", imag.UserID)
	}
}

func TestListAndGetScopedToOwner(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "user-1")

	w := env.request(t, http.MethodPost, "/api/v1/imaginations", token, map[string]interface{}{
		"prompt": "a red fox in the snow",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: got %d", w.Code)
	}
	created := decodeImagination(t, w)

	w = env.request(t, http.MethodGet, "/api/v1/imaginations", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: got %d", w.Code)
	}
	var listing struct {
		Imaginations []domain.Imagination `json:"imaginations"`
		Total        int64                `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if listing.Total != 1 || len(listing.Imaginations) != 1 {
		t.Fatalf("expected one record, got total %d len %d", listing.Total, len(listing.Imaginations))
	}

	w = env.request(t, http.MethodGet, "/api/v1/imaginations/"+created.ID, token, nil)
	if w.Code != http.StatusOK {
		t.Errorf("get own record: got %d", w.Code)
	}

	// Another user cannot see it.
	otherToken := env.token(t, "user-2")
	w = env.request(t, http.MethodGet, "/api/v1/imaginations/"+created.ID, otherToken, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign record: got %d, want 404", w.Code)
	}
	w = env.request(t, http.MethodGet, "/api/v1/imaginations", otherToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("foreign list: got %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if listing.Total != 0 {
		t.Errorf("foreign list total: got %d, want 0", listing.Total)
	}
}

func TestDeleteImagination(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "user-1")

	w := env.request(t, http.MethodPost, "/api/v1/imaginations", token, map[string]interface{}{
		"prompt": "a red fox in the snow",
	})
	created := decodeImagination(t, w)

	w = env.request(t, http.MethodDelete, "/api/v1/imaginations/"+created.ID, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: got %d, body %s", w.Code, w.Body.String())
	}

	w = env.request(t, http.MethodGet, "/api/v1/imaginations/"+created.ID, token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete: got %d, want 404", w.Code)
	}
}

func TestWebhook(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	imag := &domain.Imagination{
		ID:         uuid.New().String(),
		BusinessID: env.business.ID,
		UserID:     "user-1",
		Prompt:     "a red fox in the snow",
		Engine:     domain.EngineMidjourney,
		Mode:       domain.ModeImagine,
		Status:     domain.StatusInit,
		Progress:   -1,
		TaskID:     "task-1",
	}
	if err := env.repo.Create(ctx, imag); err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}

	path := "/api/v1/imaginations/" + imag.ID + "/webhook"

	// Webhook needs no auth: the generation engine is not a tenant.
	w := env.request(t, http.MethodPost, path, "", map[string]interface{}{
		"status":     "running",
		"percentage": "60%",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("progress webhook: got %d, body %s", w.Code, w.Body.String())
	}

	stored, err := env.repo.GetByID(ctx, imag.ID)
	if err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	if stored.Status != domain.StatusProcessing || stored.Progress != 60 {
		t.Errorf("got %s %d%%, want processing 60%%", stored.Status, stored.Progress)
	}

	// Completion publishes assets.
	w = env.request(t, http.MethodPost, path, "", map[string]interface{}{
		"status": "completed",
		"result": map[string]interface{}{"uri": "https://mj.example.com/grid.png"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("completion webhook: got %d, body %s", w.Code, w.Body.String())
	}
	stored, err = env.repo.GetByID(ctx, imag.ID)
	if err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	if stored.Status != domain.StatusCompleted {
		t.Errorf("status: got %s, want completed", stored.Status)
	}
	if len(stored.Results) != 4 {
		t.Errorf("results: got %d, want 4", len(stored.Results))
	}
}

func TestWebhook_EdgeCases(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("unknown id", func(t *testing.T) {
		w := env.request(t, http.MethodPost, "/api/v1/imaginations/"+uuid.New().String()+"/webhook", "", map[string]interface{}{
			"status": "running",
		})
		if w.Code != http.StatusNotFound {
			t.Errorf("got %d, want 404", w.Code)
		}
	})

	t.Run("cancelled record acknowledges without applying", func(t *testing.T) {
		imag := &domain.Imagination{
			ID:         uuid.New().String(),
			BusinessID: env.business.ID,
			UserID:     "user-1",
			Prompt:     "p",
			Engine:     domain.EngineMidjourney,
			Mode:       domain.ModeImagine,
			Status:     domain.StatusCancelled,
			TaskID:     "task-9",
		}
		if err := env.repo.Create(ctx, imag); err != nil {
			t.Fatalf("failed to seed record: %v", err)
		}

		w := env.request(t, http.MethodPost, "/api/v1/imaginations/"+imag.ID+"/webhook", "", map[string]interface{}{
			"status": "completed",
			"result": map[string]interface{}{"uri": "https://mj.example.com/grid.png"},
		})
		if w.Code != http.StatusOK {
			t.Fatalf("got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "cancelled") {
			t.Errorf("expected cancellation message, got %s", w.Body.String())
		}

		stored, err := env.repo.GetByID(ctx, imag.ID)
		if err != nil {
			t.Fatalf("failed to reload: %v", err)
		}
		if stored.Status != domain.StatusCancelled {
			t.Errorf("status changed to %s", stored.Status)
		}
	})

	t.Run("malformed payload", func(t *testing.T) {
		imag := &domain.Imagination{
			ID:         uuid.New().String(),
			BusinessID: env.business.ID,
			UserID:     "user-1",
			Prompt:     "p",
			Engine:     domain.EngineMidjourney,
			Mode:       domain.ModeImagine,
			Status:     domain.StatusInit,
			TaskID:     "task-10",
		}
		if err := env.repo.Create(ctx, imag); err != nil {
			t.Fatalf("failed to seed record: %v", err)
		}

		// Missing required status field.
		w := env.request(t, http.MethodPost, "/api/v1/imaginations/"+imag.ID+"/webhook", "", map[string]interface{}{
			"percentage": 50,
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("missing status: got %d, want 400", w.Code)
		}

		// Non-numeric percentage.
		w = env.request(t, http.MethodPost, "/api/v1/imaginations/"+imag.ID+"/webhook", "", map[string]interface{}{
			"status":     "running",
			"percentage": "almost there",
		})
		if w.Code != http.StatusBadRequest {
			t.Errorf("bad percentage: got %d, want 400", w.Code)
		}
	})
}

func TestEnginesListing(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/engines", nil)
	req.Host = testDomain
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
	var body struct {
		Engines []struct {
			Name      string `json:"name"`
			Supported bool   `json:"supported"`
		} `json:"engines"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(body.Engines) != 4 {
		t.Fatalf("expected 4 engines, got %d", len(body.Engines))
	}
	if body.Engines[0].Name != "midjourney" || !body.Engines[0].Supported {
		t.Errorf("unexpected first engine: %+v", body.Engines[0])
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("got %d, want 200", w.Code)
	}
}
