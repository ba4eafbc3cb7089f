package service

import (
	"context"
	"log/slog"
	"math/rand"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velvetapps/StarMarket/internal/models"
)

type sentEvent struct {
	userID int64
	event  string
}

// recordingNotifier captures the notifications a settlement fires so tests can
// assert they go out after commit.
type recordingNotifier struct {
	mu         sync.Mutex
	sent       []sentEvent
	broadcasts []string
}

func (r *recordingNotifier) SendToUser(userID int64, event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentEvent{userID: userID, event: event})
}

func (r *recordingNotifier) Broadcast(event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, event)
}

func newTestMarket(t *testing.T) (*MarketService, sqlmock.Sqlmock, *recordingNotifier) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	notifier := &recordingNotifier{}
	svc := NewMarketService(db, slog.Default(), notifier, MarketOptions{})
	return svc, mock, notifier
}

func TestTransfer(t *testing.T) {
	svc, mock, notifier := newTestMarket(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT stars_balance FROM users WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"stars_balance"}).AddRow(100))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT owner_id FROM nfts WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(int64(10)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM users WHERE id = ?`)).
		WithArgs(int64(20)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET stars_balance = stars_balance - ?, updated_at = NOW() WHERE id = ?`)).
		WithArgs(5, int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE nfts SET owner_id = ?, pinned = 0 WHERE id = ?`)).
		WithArgs(int64(20), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM sale_listings WHERE nft_id = ?`)).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO transfer_logs (ref, nft_id, from_user_id, to_user_id, type, amount) VALUES (?, ?, ?, ?, ?, ?)`)).
		WithArgs(sqlmock.AnyArg(), int64(7), int64(10), int64(20), string(models.TransferGift), 5).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO transactions (user_id, type, amount) VALUES (?, ?, ?)`)).
		WithArgs(int64(10), string(models.TransactionTransfer), -5).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := svc.Transfer(context.Background(), 7, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Fee)
	assert.Equal(t, 95, result.SenderBalance)

	assert.Contains(t, notifier.sent, sentEvent{userID: 10, event: EventBalanceUpdated})
	assert.Contains(t, notifier.sent, sentEvent{userID: 10, event: EventNFTsUpdated})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferInsufficientBalance(t *testing.T) {
	svc, mock, notifier := newTestMarket(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT stars_balance FROM users WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"stars_balance"}).AddRow(4))
	mock.ExpectRollback()

	_, err := svc.Transfer(context.Background(), 7, 10, 20)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Empty(t, notifier.sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferNotOwner(t *testing.T) {
	svc, mock, _ := newTestMarket(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT stars_balance FROM users WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"stars_balance"}).AddRow(100))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT owner_id FROM nfts WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(int64(99)))
	mock.ExpectRollback()

	_, err := svc.Transfer(context.Background(), 7, 10, 20)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchaseWithReferrer(t *testing.T) {
	svc, mock, notifier := newTestMarket(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT seller_id, price FROM sale_listings WHERE nft_id = ? FOR UPDATE`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"seller_id", "price"}).AddRow(int64(20), 100))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT stars_balance, referrer_id FROM users WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"stars_balance", "referrer_id"}).AddRow(150, int64(30)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET stars_balance = stars_balance - ?, spent = spent + ?, updated_at = NOW() WHERE id = ?`)).
		WithArgs(100, 100, int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET stars_balance = stars_balance + ?, updated_at = NOW() WHERE id = ?`)).
		WithArgs(85, int64(20)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET stars_balance = stars_balance + ?, updated_at = NOW() WHERE id = ?`)).
		WithArgs(3, int64(30)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO transactions (user_id, type, amount) VALUES (?, ?, ?)`)).
		WithArgs(int64(30), string(models.TransactionReferral), 3).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE nfts SET owner_id = ?, pinned = 0 WHERE id = ?`)).
		WithArgs(int64(10), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM sale_listings WHERE nft_id = ?`)).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO transfer_logs (ref, nft_id, from_user_id, to_user_id, type, amount) VALUES (?, ?, ?, ?, ?, ?)`)).
		WithArgs(sqlmock.AnyArg(), int64(7), int64(20), int64(10), string(models.TransferPurchase), 100).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO transactions (user_id, type, amount) VALUES (?, ?, ?)`)).
		WithArgs(int64(10), string(models.TransactionPurchase), -100).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO transactions (user_id, type, amount) VALUES (?, ?, ?)`)).
		WithArgs(int64(20), string(models.TransactionSale), 85).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := svc.Purchase(context.Background(), 7, 10, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, result.Price)
	assert.Equal(t, 50, result.BuyerBalance)
	assert.Equal(t, 85, result.SellerPayout)
	assert.Equal(t, 3, result.ReferralBonus)

	assert.Contains(t, notifier.sent, sentEvent{userID: 10, event: EventBalanceUpdated})
	assert.Contains(t, notifier.sent, sentEvent{userID: 20, event: EventBalanceUpdated})
	assert.Contains(t, notifier.sent, sentEvent{userID: 30, event: EventBalanceUpdated})
	assert.Contains(t, notifier.broadcasts, EventMarketUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchaseListingGone(t *testing.T) {
	svc, mock, _ := newTestMarket(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT seller_id, price FROM sale_listings WHERE nft_id = ? FOR UPDATE`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"seller_id", "price"}))
	mock.ExpectRollback()

	_, err := svc.Purchase(context.Background(), 7, 10, 100)
	assert.ErrorIs(t, err, ErrListingGone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchasePriceChanged(t *testing.T) {
	svc, mock, _ := newTestMarket(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT seller_id, price FROM sale_listings WHERE nft_id = ? FOR UPDATE`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"seller_id", "price"}).AddRow(int64(20), 120))
	mock.ExpectRollback()

	_, err := svc.Purchase(context.Background(), 7, 10, 100)
	assert.ErrorIs(t, err, ErrPriceChanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchaseOwnListing(t *testing.T) {
	svc, mock, _ := newTestMarket(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT seller_id, price FROM sale_listings WHERE nft_id = ? FOR UPDATE`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"seller_id", "price"}).AddRow(int64(10), 100))
	mock.ExpectRollback()

	_, err := svc.Purchase(context.Background(), 7, 10, 100)
	assert.ErrorIs(t, err, ErrOwnListing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchasePrimary(t *testing.T) {
	svc, mock, notifier := newTestMarket(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT price, total_supply, sold_count FROM collections WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"price", "total_supply", "sold_count"}).AddRow(100, 1000, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT stars_balance, referrer_id FROM users WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"stars_balance", "referrer_id"}).AddRow(150, nil))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET stars_balance = stars_balance - ?, spent = spent + ?, updated_at = NOW() WHERE id = ?`)).
		WithArgs(100, 100, int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE collections SET sold_count = sold_count + 1 WHERE id = ?`)).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO nfts (collection_id, owner_id, number) VALUES (?, ?, ?)`)).
		WithArgs(int64(3), int64(10), 1).
		WillReturnResult(sqlmock.NewResult(55, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO transfer_logs (ref, nft_id, from_user_id, to_user_id, type, amount) VALUES (?, ?, ?, ?, ?, ?)`)).
		WithArgs(sqlmock.AnyArg(), int64(55), models.SystemUserID, int64(10), string(models.TransferPurchase), 100).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO transactions (user_id, type, amount) VALUES (?, ?, ?)`)).
		WithArgs(int64(10), string(models.TransactionPurchase), -100).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := svc.PurchasePrimary(context.Background(), 3, 10, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(55), result.NFTID)
	assert.Equal(t, 1, result.Number)
	assert.Equal(t, 50, result.BuyerBalance)
	assert.Equal(t, 0, result.ReferralBonus)

	assert.Contains(t, notifier.sent, sentEvent{userID: 10, event: EventBalanceUpdated})
	assert.Contains(t, notifier.broadcasts, EventCollectionUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchasePrimarySoldOut(t *testing.T) {
	svc, mock, _ := newTestMarket(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT price, total_supply, sold_count FROM collections WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"price", "total_supply", "sold_count"}).AddRow(100, 1000, 1000))
	mock.ExpectRollback()

	_, err := svc.PurchasePrimary(context.Background(), 3, 10, 100)
	assert.ErrorIs(t, err, ErrSoldOut)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpgrade(t *testing.T) {
	svc, mock, notifier := newTestMarket(t)
	svc.newRand = func() *rand.Rand { return rand.New(rand.NewSource(1)) }

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT owner_id, collection_id, upgraded FROM nfts WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "collection_id", "upgraded"}).AddRow(int64(10), int64(3), 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT updateble FROM collections WHERE id = ?`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"updateble"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT stars_balance FROM users WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"stars_balance"}).AddRow(10))
	// Single-row pools make the draw deterministic regardless of the seed.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, rarity FROM nft_models WHERE collection_id = ?`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "rarity"}).AddRow(int64(11), 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, rarity FROM nft_backgrounds WHERE collection_id = ?`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "rarity"}).AddRow(int64(22), 2))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, rarity FROM nft_patterns WHERE collection_id = ?`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "rarity"}).AddRow(int64(33), 3))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET stars_balance = stars_balance - ?, updated_at = NOW() WHERE id = ?`)).
		WithArgs(1, int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE nfts SET model_id = ?, background_id = ?, pattern_id = ?, upgraded = 1 WHERE id = ?`)).
		WithArgs(int64(11), int64(22), int64(33), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO transactions (user_id, type, amount) VALUES (?, ?, ?)`)).
		WithArgs(int64(10), string(models.TransactionUpgrade), -1).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := svc.Upgrade(context.Background(), 7, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(11), result.ModelID)
	assert.Equal(t, int64(22), result.BackgroundID)
	assert.Equal(t, int64(33), result.PatternID)
	assert.Equal(t, 9, result.OwnerBalance)

	assert.Contains(t, notifier.sent, sentEvent{userID: 10, event: EventNFTsUpdated})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpgradeAlreadyUpgraded(t *testing.T) {
	svc, mock, _ := newTestMarket(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT owner_id, collection_id, upgraded FROM nfts WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "collection_id", "upgraded"}).AddRow(int64(10), int64(3), 1))
	mock.ExpectRollback()

	_, err := svc.Upgrade(context.Background(), 7, 10)
	assert.ErrorIs(t, err, ErrAlreadyUpgraded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpgradeLockedCollection(t *testing.T) {
	svc, mock, _ := newTestMarket(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT owner_id, collection_id, upgraded FROM nfts WHERE id = ? FOR UPDATE`)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "collection_id", "upgraded"}).AddRow(int64(10), int64(3), 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT updateble FROM collections WHERE id = ?`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"updateble"}).AddRow(0))
	mock.ExpectRollback()

	_, err := svc.Upgrade(context.Background(), 7, 10)
	assert.ErrorIs(t, err, ErrUpgradeUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}
