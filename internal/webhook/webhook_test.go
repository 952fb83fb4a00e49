package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cutroom/cutroom/internal/config"
	"github.com/cutroom/cutroom/pkg/models"
)

func TestNotifyExport(t *testing.T) {
	var received Event
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		headers = r.Header.Clone()
		_ = json.Unmarshal(body, &received)
		assert.Equal(t, Sign(body, "test-secret"), r.Header.Get("X-Webhook-Signature"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	service := NewService(config.WebhookConfig{URLs: []string{server.URL}, Secret: "test-secret"}, nil)

	job := models.ExportJob{ID: "exp-1", CompositionID: "comp-1", Status: models.ExportStatusDone, URL: "https://cdn.example.com/exports/exp-1.mp4"}
	service.NotifyExport(context.Background(), models.ExportEventCompleted, job)
	service.Wait()

	assert.Equal(t, models.ExportEventCompleted, received.Event)
	assert.Equal(t, "exp-1", received.Export.ID)
	assert.Equal(t, job.URL, received.Export.URL)
	assert.Equal(t, models.ExportEventCompleted, headers.Get("X-Webhook-Event"))
	assert.NotEmpty(t, headers.Get("X-Webhook-Delivery"))
}

func TestNotifyExport_Retries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	service := NewService(config.WebhookConfig{URLs: []string{server.URL}}, nil)
	service.retryDelays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}

	service.NotifyExport(context.Background(), models.ExportEventFailed, models.ExportJob{ID: "exp-1"})
	service.Wait()

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNotifyExport_GivesUp(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	service := NewService(config.WebhookConfig{URLs: []string{server.URL}}, nil)
	service.retryDelays = []time.Duration{time.Millisecond}

	service.NotifyExport(context.Background(), models.ExportEventStarted, models.ExportJob{ID: "exp-1"})
	service.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNotifyExport_NoEndpoints(t *testing.T) {
	service := NewService(config.WebhookConfig{}, nil)
	service.NotifyExport(context.Background(), models.ExportEventStarted, models.ExportJob{ID: "exp-1"})
	service.Wait()
}

func TestSign(t *testing.T) {
	payload := []byte(`{"event":"test"}`)

	signature := Sign(payload, "test-secret")
	require.NotEmpty(t, signature)
	assert.Contains(t, signature, "sha256=")
	assert.Equal(t, signature, Sign(payload, "test-secret"))
	assert.NotEqual(t, signature, Sign(payload, "other-secret"))
}
