package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// CurrencyService polls an external ticker API on a schedule and caches the
// last known TON/USD rate. The cache starts at the configured fallback, so a
// rate is always available even if the API never answers.
type CurrencyService struct {
	url      string
	spec     string
	log      *slog.Logger
	notifier Notifier
	client   *http.Client
	cron     *cron.Cron

	mu        sync.RWMutex
	rate      float64
	updatedAt time.Time
}

func NewCurrencyService(url, pollSpec string, fallback float64, timeout time.Duration, log *slog.Logger, notifier Notifier) *CurrencyService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &CurrencyService{
		url:      url,
		spec:     pollSpec,
		log:      log,
		notifier: notifier,
		client:   &http.Client{Timeout: timeout},
		rate:     fallback,
	}
}

// Start fetches once immediately, then refreshes on the configured schedule.
func (s *CurrencyService) Start(ctx context.Context) error {
	s.refresh(ctx)

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.spec, func() {
		refreshCtx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
		defer cancel()
		s.refresh(refreshCtx)
	}); err != nil {
		return fmt.Errorf("schedule price poll: %w", err)
	}
	s.cron.Start()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *CurrencyService) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Rate returns the cached TON/USD rate and when it was last refreshed.
// A zero time means the fallback constant is still in effect.
func (s *CurrencyService) Rate() (float64, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rate, s.updatedAt
}

func (s *CurrencyService) refresh(ctx context.Context) {
	rate, err := s.fetch(ctx)
	if err != nil {
		s.log.Warn("price refresh failed, keeping cached rate", "err", err)
		return
	}

	s.mu.Lock()
	changed := math.Abs(rate-s.rate) > 1e-9
	s.rate = rate
	s.updatedAt = time.Now()
	s.mu.Unlock()

	if changed {
		s.notifier.Broadcast(EventCurrencyUpdated, map[string]any{"usd": rate})
	}
}

func (s *CurrencyService) fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("build price request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("price request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("price api status: %d", resp.StatusCode)
	}

	// CoinGecko simple/price shape: {"the-open-network": {"usd": 2.41}}.
	var parsed map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode price response: %w", err)
	}
	for _, currencies := range parsed {
		if usd, ok := currencies["usd"]; ok && usd > 0 {
			return usd, nil
		}
	}
	return 0, fmt.Errorf("price response missing usd rate")
}
