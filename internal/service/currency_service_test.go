package service

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCurrencyRefresh(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"the-open-network":{"usd":2.41}}`))
	}))
	defer ts.Close()

	notifier := &recordingNotifier{}
	svc := NewCurrencyService(ts.URL, "@every 5m", 2.35, time.Second, slog.Default(), notifier)

	rate, updatedAt := svc.Rate()
	assert.InDelta(t, 2.35, rate, 1e-9)
	assert.True(t, updatedAt.IsZero())

	svc.refresh(context.Background())

	rate, updatedAt = svc.Rate()
	assert.InDelta(t, 2.41, rate, 1e-9)
	assert.False(t, updatedAt.IsZero())
	assert.Contains(t, notifier.broadcasts, EventCurrencyUpdated)
}

func TestCurrencyRefreshKeepsCacheOnAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	notifier := &recordingNotifier{}
	svc := NewCurrencyService(ts.URL, "@every 5m", 2.35, time.Second, slog.Default(), notifier)
	svc.refresh(context.Background())

	rate, updatedAt := svc.Rate()
	assert.InDelta(t, 2.35, rate, 1e-9)
	assert.True(t, updatedAt.IsZero())
	assert.Empty(t, notifier.broadcasts)
}

func TestCurrencyRefreshRejectsMissingRate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"the-open-network":{"eur":2.2}}`))
	}))
	defer ts.Close()

	svc := NewCurrencyService(ts.URL, "@every 5m", 2.35, time.Second, slog.Default(), &recordingNotifier{})
	svc.refresh(context.Background())

	rate, _ := svc.Rate()
	assert.InDelta(t, 2.35, rate, 1e-9)
}
