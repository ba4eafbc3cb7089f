package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velvetapps/StarMarket/internal/repository"
	"github.com/velvetapps/StarMarket/internal/service"
)

type stubInvoices struct {
	chatID int64
	stars  int
	err    error
}

func (s *stubInvoices) SendStarsInvoice(chatID int64, stars int) error {
	s.chatID = chatID
	s.stars = stars
	return s.err
}

func newTestRouter(t *testing.T) (*Hub, *Client, sqlmock.Sqlmock, *stubInvoices) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := slog.Default()
	users := service.NewUserService(repository.NewUserRepository(db), repository.NewTransactionRepository(db), nil)
	nfts := service.NewNFTService(
		repository.NewNFTRepository(db),
		repository.NewCollectionRepository(db),
		repository.NewListingRepository(db),
		repository.NewTransferRepository(db),
		repository.NewAttributeRepository(db),
		nil, service.ListingBounds{}, "https://cdn.example.com",
	)
	market := service.NewMarketService(db, log, nil, service.MarketOptions{})
	currency := service.NewCurrencyService("http://unused.invalid", "@every 5m", 2.35, time.Second, log, nil)
	invoices := &stubInvoices{}

	hub := NewHub(log, nil)
	hub.SetRouter(NewRouter(log, users, nfts, market, currency, invoices))

	c := newClient(hub, nil, 10)
	hub.register(c)
	return hub, c, mock, invoices
}

func dispatch(t *testing.T, hub *Hub, c *Client, event string, data string) Result {
	t.Helper()
	env := Envelope{Event: event}
	if data != "" {
		env.Data = json.RawMessage(data)
	}
	hub.router.Dispatch(context.Background(), c, env)

	frame := drainOne(t, c)
	assert.Equal(t, event+"_result", frame.Event)
	var result Result
	require.NoError(t, json.Unmarshal(frame.Data, &result))
	return result
}

func TestDispatchGetBalance(t *testing.T) {
	hub, c, mock, _ := newTestRouter(t)
	now := time.Now()
	cols := []string{"id", "username", "first_name", "stars_balance", "spent", "referrer_id", "referrals_count", "created_at", "updated_at"}

	mock.ExpectQuery(`FROM users WHERE id = \?`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(10), "alice", "Alice", 120, 30, nil, 2, now, now))

	result := dispatch(t, hub, c, "get_balance", "")
	require.True(t, result.OK)

	body, err := json.Marshal(result.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"stars_balance":120,"spent":30,"referrals_count":2}`, string(body))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchGetCurrency(t *testing.T) {
	hub, c, _, _ := newTestRouter(t)

	result := dispatch(t, hub, c, "get_currency", "")
	require.True(t, result.OK)
	data, ok := result.Data.(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 2.35, data["usd"], 1e-9)
}

func TestDispatchBuyStars(t *testing.T) {
	hub, c, _, invoices := newTestRouter(t)

	result := dispatch(t, hub, c, "buy_stars", `{"stars":50}`)
	assert.True(t, result.OK)
	assert.Equal(t, int64(10), invoices.chatID)
	assert.Equal(t, 50, invoices.stars)
}

func TestDispatchBuyStarsInvoiceFailure(t *testing.T) {
	hub, c, _, invoices := newTestRouter(t)
	invoices.err = errors.New("bot api down")

	result := dispatch(t, hub, c, "buy_stars", `{"stars":50}`)
	assert.False(t, result.OK)
	assert.Equal(t, "could not create invoice", result.Error)
}

func TestDispatchRejectsSelfTransfer(t *testing.T) {
	hub, c, mock, _ := newTestRouter(t)

	result := dispatch(t, hub, c, "transfer_nft", `{"nft_id":7,"to_user_id":10}`)
	assert.False(t, result.OK)
	assert.Equal(t, "cannot transfer to yourself", result.Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchSurfacesKnownErrors(t *testing.T) {
	hub, c, mock, _ := newTestRouter(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT seller_id, price FROM sale_listings`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"seller_id", "price"}))
	mock.ExpectRollback()

	result := dispatch(t, hub, c, "buy_nft", `{"nft_id":7,"price":100}`)
	assert.False(t, result.OK)
	assert.Equal(t, service.ErrListingGone.Error(), result.Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchHidesInternalErrors(t *testing.T) {
	hub, c, mock, _ := newTestRouter(t)

	mock.ExpectBegin().WillReturnError(errors.New("db gone"))

	result := dispatch(t, hub, c, "buy_nft", `{"nft_id":7,"price":100}`)
	assert.False(t, result.OK)
	assert.Equal(t, "internal error", result.Error)
}

func TestDispatchUnknownEvent(t *testing.T) {
	hub, c, _, _ := newTestRouter(t)

	result := dispatch(t, hub, c, "open_vault", "")
	assert.False(t, result.OK)
	assert.Equal(t, "unknown event", result.Error)
}

func TestDispatchMalformedRequest(t *testing.T) {
	hub, c, _, _ := newTestRouter(t)

	result := dispatch(t, hub, c, "buy_nft", `{"nft_id":0}`)
	assert.False(t, result.OK)
	assert.Equal(t, "malformed request", result.Error)
}
