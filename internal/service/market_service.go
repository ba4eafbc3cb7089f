package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/velvetapps/StarMarket/internal/models"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrItemNotFound        = errors.New("item not found")
	ErrCollectionNotFound  = errors.New("collection not found")
	ErrNotOwner            = errors.New("item belongs to another user")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrListingGone         = errors.New("item is no longer available")
	ErrPriceChanged        = errors.New("price has changed")
	ErrOwnListing          = errors.New("cannot buy your own listing")
	ErrSoldOut             = errors.New("collection is sold out")
	ErrAlreadyUpgraded     = errors.New("item is already upgraded")
	ErrUpgradeUnavailable  = errors.New("item cannot be upgraded")
)

// MarketOptions tunes the flat settlement fees.
type MarketOptions struct {
	TransferFee int
	UpgradeCost int
}

// MarketService runs the four settlement flows: peer transfer, marketplace
// purchase, primary sale and cosmetic upgrade. Each flow is one database
// transaction; rows being settled are locked with SELECT ... FOR UPDATE, so
// two concurrent purchases of the same listing resolve to exactly one winner
// and one "no longer available" loser.
type MarketService struct {
	db          *sql.DB
	log         *slog.Logger
	notifier    Notifier
	transferFee int
	upgradeCost int
	newRand     func() *rand.Rand
}

func NewMarketService(db *sql.DB, log *slog.Logger, notifier Notifier, opts MarketOptions) *MarketService {
	if opts.TransferFee <= 0 {
		opts.TransferFee = DefaultTransferFee
	}
	if opts.UpgradeCost <= 0 {
		opts.UpgradeCost = DefaultUpgradeCost
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &MarketService{
		db:          db,
		log:         log,
		notifier:    notifier,
		transferFee: opts.TransferFee,
		upgradeCost: opts.UpgradeCost,
		newRand: func() *rand.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
	}
}

type TransferResult struct {
	Fee           int `json:"fee"`
	SenderBalance int `json:"sender_balance"`
}

// Transfer gifts an item to another user for a flat fee.
func (s *MarketService) Transfer(ctx context.Context, nftID, senderID, receiverID int64) (*TransferResult, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var balance int
	row := tx.QueryRowContext(ctx, `SELECT stars_balance FROM users WHERE id = ? FOR UPDATE`, senderID)
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock sender: %w", err)
	}
	if balance < s.transferFee {
		return nil, ErrInsufficientBalance
	}

	var ownerID int64
	row = tx.QueryRowContext(ctx, `SELECT owner_id FROM nfts WHERE id = ? FOR UPDATE`, nftID)
	if err := row.Scan(&ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("lock item: %w", err)
	}
	if ownerID != senderID {
		return nil, ErrNotOwner
	}

	var dummy int
	row = tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, receiverID)
	if err := row.Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("check receiver: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET stars_balance = stars_balance - ?, updated_at = NOW() WHERE id = ?`, s.transferFee, senderID); err != nil {
		return nil, fmt.Errorf("debit sender: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE nfts SET owner_id = ?, pinned = 0 WHERE id = ?`, receiverID, nftID); err != nil {
		return nil, fmt.Errorf("reassign item: %w", err)
	}
	// Gifting a listed item takes it off the market.
	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_listings WHERE nft_id = ?`, nftID); err != nil {
		return nil, fmt.Errorf("delist item: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO transfer_logs (ref, nft_id, from_user_id, to_user_id, type, amount) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), nftID, senderID, receiverID, models.TransferGift, s.transferFee); err != nil {
		return nil, fmt.Errorf("log transfer: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO transactions (user_id, type, amount) VALUES (?, ?, ?)`,
		senderID, models.TransactionTransfer, -s.transferFee); err != nil {
		return nil, fmt.Errorf("ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transfer: %w", err)
	}

	result := &TransferResult{Fee: s.transferFee, SenderBalance: balance - s.transferFee}
	s.notifier.SendToUser(senderID, EventBalanceUpdated, map[string]any{"stars_balance": result.SenderBalance})
	s.notifier.SendToUser(senderID, EventNFTsUpdated, nil)
	return result, nil
}

type PurchaseResult struct {
	NFTID         int64 `json:"nft_id"`
	Price         int   `json:"price"`
	BuyerBalance  int   `json:"buyer_balance"`
	SellerPayout  int   `json:"seller_payout"`
	ReferralBonus int   `json:"referral_bonus"`
}

// Purchase buys a listed item from another user. The listing row is locked
// first; a listing that vanished between display and click surfaces as
// ErrListingGone rather than a partial settlement.
func (s *MarketService) Purchase(ctx context.Context, nftID, buyerID int64, expectedPrice int) (*PurchaseResult, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var sellerID int64
	var price int
	row := tx.QueryRowContext(ctx, `SELECT seller_id, price FROM sale_listings WHERE nft_id = ? FOR UPDATE`, nftID)
	if err := row.Scan(&sellerID, &price); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrListingGone
		}
		return nil, fmt.Errorf("lock listing: %w", err)
	}
	if price != expectedPrice {
		return nil, ErrPriceChanged
	}
	if sellerID == buyerID {
		return nil, ErrOwnListing
	}

	var balance int
	var referrer sql.NullInt64
	row = tx.QueryRowContext(ctx, `SELECT stars_balance, referrer_id FROM users WHERE id = ? FOR UPDATE`, buyerID)
	if err := row.Scan(&balance, &referrer); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock buyer: %w", err)
	}
	if balance < price {
		return nil, ErrInsufficientBalance
	}

	payout := SellerPayout(price)
	bonus := 0
	if referrer.Valid {
		bonus = ReferralBonus(price)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET stars_balance = stars_balance - ?, spent = spent + ?, updated_at = NOW() WHERE id = ?`, price, price, buyerID); err != nil {
		return nil, fmt.Errorf("debit buyer: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET stars_balance = stars_balance + ?, updated_at = NOW() WHERE id = ?`, payout, sellerID); err != nil {
		return nil, fmt.Errorf("credit seller: %w", err)
	}
	if bonus > 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET stars_balance = stars_balance + ?, updated_at = NOW() WHERE id = ?`, bonus, referrer.Int64); err != nil {
			return nil, fmt.Errorf("credit referrer: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO transactions (user_id, type, amount) VALUES (?, ?, ?)`,
			referrer.Int64, models.TransactionReferral, bonus); err != nil {
			return nil, fmt.Errorf("referral ledger entry: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE nfts SET owner_id = ?, pinned = 0 WHERE id = ?`, buyerID, nftID); err != nil {
		return nil, fmt.Errorf("reassign item: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_listings WHERE nft_id = ?`, nftID); err != nil {
		return nil, fmt.Errorf("delete listing: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO transfer_logs (ref, nft_id, from_user_id, to_user_id, type, amount) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), nftID, sellerID, buyerID, models.TransferPurchase, price); err != nil {
		return nil, fmt.Errorf("log purchase: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO transactions (user_id, type, amount) VALUES (?, ?, ?)`,
		buyerID, models.TransactionPurchase, -price); err != nil {
		return nil, fmt.Errorf("buyer ledger entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO transactions (user_id, type, amount) VALUES (?, ?, ?)`,
		sellerID, models.TransactionSale, payout); err != nil {
		return nil, fmt.Errorf("seller ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit purchase: %w", err)
	}

	result := &PurchaseResult{
		NFTID:         nftID,
		Price:         price,
		BuyerBalance:  balance - price,
		SellerPayout:  payout,
		ReferralBonus: bonus,
	}
	s.notifier.SendToUser(buyerID, EventBalanceUpdated, map[string]any{"stars_balance": result.BuyerBalance})
	s.notifier.SendToUser(buyerID, EventNFTsUpdated, nil)
	s.notifier.SendToUser(sellerID, EventBalanceUpdated, map[string]any{"delta": payout})
	s.notifier.SendToUser(sellerID, EventNFTsUpdated, nil)
	if bonus > 0 {
		s.notifier.SendToUser(referrer.Int64, EventBalanceUpdated, map[string]any{"delta": bonus})
	}
	s.notifier.Broadcast(EventMarketUpdated, nil)
	return result, nil
}

type PrimarySaleResult struct {
	NFTID         int64 `json:"nft_id"`
	Number        int   `json:"number"`
	Price         int   `json:"price"`
	BuyerBalance  int   `json:"buyer_balance"`
	ReferralBonus int   `json:"referral_bonus"`
}

// PurchasePrimary mints a fresh item from a collection pool. The system is the
// implicit seller, recorded as from_user_id 0 in the transfer log.
func (s *MarketService) PurchasePrimary(ctx context.Context, collectionID, buyerID int64, expectedPrice int) (*PrimarySaleResult, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var price, totalSupply, soldCount int
	row := tx.QueryRowContext(ctx, `SELECT price, total_supply, sold_count FROM collections WHERE id = ? FOR UPDATE`, collectionID)
	if err := row.Scan(&price, &totalSupply, &soldCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCollectionNotFound
		}
		return nil, fmt.Errorf("lock collection: %w", err)
	}
	if soldCount >= totalSupply {
		return nil, ErrSoldOut
	}
	if price != expectedPrice {
		return nil, ErrPriceChanged
	}

	var balance int
	var referrer sql.NullInt64
	row = tx.QueryRowContext(ctx, `SELECT stars_balance, referrer_id FROM users WHERE id = ? FOR UPDATE`, buyerID)
	if err := row.Scan(&balance, &referrer); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock buyer: %w", err)
	}
	if balance < price {
		return nil, ErrInsufficientBalance
	}

	bonus := 0
	if referrer.Valid {
		bonus = ReferralBonus(price)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET stars_balance = stars_balance - ?, spent = spent + ?, updated_at = NOW() WHERE id = ?`, price, price, buyerID); err != nil {
		return nil, fmt.Errorf("debit buyer: %w", err)
	}
	if bonus > 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET stars_balance = stars_balance + ?, updated_at = NOW() WHERE id = ?`, bonus, referrer.Int64); err != nil {
			return nil, fmt.Errorf("credit referrer: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO transactions (user_id, type, amount) VALUES (?, ?, ?)`,
			referrer.Int64, models.TransactionReferral, bonus); err != nil {
			return nil, fmt.Errorf("referral ledger entry: %w", err)
		}
	}

	number := soldCount + 1
	if _, err := tx.ExecContext(ctx, `UPDATE collections SET sold_count = sold_count + 1 WHERE id = ?`, collectionID); err != nil {
		return nil, fmt.Errorf("increment sold count: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO nfts (collection_id, owner_id, number) VALUES (?, ?, ?)`, collectionID, buyerID, number)
	if err != nil {
		return nil, fmt.Errorf("mint item: %w", err)
	}
	nftID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("minted item id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO transfer_logs (ref, nft_id, from_user_id, to_user_id, type, amount) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), nftID, models.SystemUserID, buyerID, models.TransferPurchase, price); err != nil {
		return nil, fmt.Errorf("log primary sale: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO transactions (user_id, type, amount) VALUES (?, ?, ?)`,
		buyerID, models.TransactionPurchase, -price); err != nil {
		return nil, fmt.Errorf("buyer ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit primary sale: %w", err)
	}

	result := &PrimarySaleResult{
		NFTID:         nftID,
		Number:        number,
		Price:         price,
		BuyerBalance:  balance - price,
		ReferralBonus: bonus,
	}
	s.notifier.SendToUser(buyerID, EventBalanceUpdated, map[string]any{"stars_balance": result.BuyerBalance})
	s.notifier.SendToUser(buyerID, EventNFTsUpdated, nil)
	if bonus > 0 {
		s.notifier.SendToUser(referrer.Int64, EventBalanceUpdated, map[string]any{"delta": bonus})
	}
	s.notifier.Broadcast(EventCollectionUpdated, map[string]any{"collection_id": collectionID})
	return result, nil
}

type UpgradeResult struct {
	ModelID      int64 `json:"model_id"`
	BackgroundID int64 `json:"background_id"`
	PatternID    int64 `json:"pattern_id"`
	OwnerBalance int   `json:"owner_balance"`
}

// Upgrade rolls the item's cosmetic attributes once, weighting every pool row
// by 1/rarity.
func (s *MarketService) Upgrade(ctx context.Context, nftID, ownerID int64) (*UpgradeResult, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var itemOwner, collectionID int64
	var upgraded int
	row := tx.QueryRowContext(ctx, `SELECT owner_id, collection_id, upgraded FROM nfts WHERE id = ? FOR UPDATE`, nftID)
	if err := row.Scan(&itemOwner, &collectionID, &upgraded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("lock item: %w", err)
	}
	if itemOwner != ownerID {
		return nil, ErrNotOwner
	}
	if upgraded != 0 {
		return nil, ErrAlreadyUpgraded
	}

	var updateble int
	row = tx.QueryRowContext(ctx, `SELECT updateble FROM collections WHERE id = ?`, collectionID)
	if err := row.Scan(&updateble); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCollectionNotFound
		}
		return nil, fmt.Errorf("check collection: %w", err)
	}
	if updateble == 0 {
		return nil, ErrUpgradeUnavailable
	}

	var balance int
	row = tx.QueryRowContext(ctx, `SELECT stars_balance FROM users WHERE id = ? FOR UPDATE`, ownerID)
	if err := row.Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock owner: %w", err)
	}
	if balance < s.upgradeCost {
		return nil, ErrInsufficientBalance
	}

	rng := s.newRand()
	var picked [3]int64
	for i, table := range []string{"nft_models", "nft_backgrounds", "nft_patterns"} {
		pool, err := loadAttributePool(ctx, tx, table, collectionID)
		if err != nil {
			return nil, err
		}
		if len(pool) == 0 {
			return nil, ErrUpgradeUnavailable
		}
		picked[i] = PickAttribute(rng, pool).ID
	}

	if _, err := tx.ExecContext(ctx, `UPDATE users SET stars_balance = stars_balance - ?, updated_at = NOW() WHERE id = ?`, s.upgradeCost, ownerID); err != nil {
		return nil, fmt.Errorf("debit owner: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE nfts SET model_id = ?, background_id = ?, pattern_id = ?, upgraded = 1 WHERE id = ?`,
		picked[0], picked[1], picked[2], nftID); err != nil {
		return nil, fmt.Errorf("apply upgrade: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO transactions (user_id, type, amount) VALUES (?, ?, ?)`,
		ownerID, models.TransactionUpgrade, -s.upgradeCost); err != nil {
		return nil, fmt.Errorf("ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit upgrade: %w", err)
	}

	result := &UpgradeResult{
		ModelID:      picked[0],
		BackgroundID: picked[1],
		PatternID:    picked[2],
		OwnerBalance: balance - s.upgradeCost,
	}
	s.notifier.SendToUser(ownerID, EventBalanceUpdated, map[string]any{"stars_balance": result.OwnerBalance})
	s.notifier.SendToUser(ownerID, EventNFTsUpdated, nil)
	return result, nil
}

func loadAttributePool(ctx context.Context, tx *sql.Tx, table string, collectionID int64) ([]models.Attribute, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, rarity FROM `+table+` WHERE collection_id = ?`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("load %s pool: %w", table, err)
	}
	defer rows.Close()

	var pool []models.Attribute
	for rows.Next() {
		var a models.Attribute
		if err := rows.Scan(&a.ID, &a.Rarity); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		pool = append(pool, a)
	}
	return pool, rows.Err()
}
