package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orrn/netprint/internal/config"
	"github.com/orrn/netprint/internal/metrics"
)

type delivery struct {
	event     string
	signature string
	body      []byte
}

func recordingServer(t *testing.T, status func(n int32) int) (*httptest.Server, <-chan delivery, *atomic.Int32) {
	t.Helper()
	ch := make(chan delivery, 16)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		code := status(n)
		w.WriteHeader(code)
		if code < 300 {
			ch <- delivery{event: r.Header.Get("X-Webhook-Event"), signature: r.Header.Get("X-Webhook-Signature"), body: body}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, ch, &calls
}

func waitDelivery(t *testing.T, ch <-chan delivery) delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
		return delivery{}
	}
}

func fastOptions() Options {
	return Options{RetryCount: 3, RetryDelay: time.Millisecond, Timeout: time.Second, WorkerCount: 1, QueueSize: 8}
}

func TestSenderSignsAndFiltersEvents(t *testing.T) {
	srv, ch, calls := recordingServer(t, func(int32) int { return http.StatusOK })
	m := metrics.NewNop()

	s := NewSender([]config.WebhookConfig{{URL: srv.URL, Secret: "s3cret", Events: []string{"job_completed"}}}, fastOptions(), zap.NewNop(), m)
	s.Start()
	defer s.Stop()

	s.Send(EventJobStarted, JobEventData{JobID: "j0"})
	s.Send(EventJobCompleted, JobEventData{JobID: "j1", PrinterID: "uuid:office", State: "completed"})

	d := waitDelivery(t, ch)
	assert.Equal(t, "job_completed", d.event)
	assert.Equal(t, Sign(d.body, "s3cret"), d.signature)

	var p struct {
		Event string       `json:"event"`
		Data  JobEventData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(d.body, &p))
	assert.Equal(t, "j1", p.Data.JobID)
	assert.Equal(t, int32(1), calls.Load())

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("delivered")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSenderRetriesServerErrors(t *testing.T) {
	srv, ch, calls := recordingServer(t, func(n int32) int {
		if n < 3 {
			return http.StatusBadGateway
		}
		return http.StatusNoContent
	})

	s := NewSender([]config.WebhookConfig{{URL: srv.URL}}, fastOptions(), zap.NewNop(), metrics.NewNop())
	s.Start()
	defer s.Stop()

	s.Send(EventPrinterAdded, PrinterEventData{PrinterID: "uuid:office"})
	d := waitDelivery(t, ch)
	assert.Empty(t, d.signature)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSenderDoesNotRetryClientErrors(t *testing.T) {
	srv, _, calls := recordingServer(t, func(int32) int { return http.StatusNotFound })
	m := metrics.NewNop()

	s := NewSender([]config.WebhookConfig{{URL: srv.URL}}, fastOptions(), zap.NewNop(), m)
	s.Start()
	defer s.Stop()

	s.Send(EventJobFailed, JobEventData{JobID: "j1"})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("failed")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSenderWithoutEndpoints(t *testing.T) {
	s := NewSender(nil, fastOptions(), zap.NewNop(), metrics.NewNop())
	assert.False(t, s.Enabled())
	s.Send(EventJobStarted, nil)
	s.Stop()
	s.Stop()
}
