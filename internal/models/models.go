package models

import "time"

// TransactionType labels entries in the balance ledger.
type TransactionType string

const (
	TransactionDeposit  TransactionType = "deposit"
	TransactionPurchase TransactionType = "purchase"
	TransactionSale     TransactionType = "sale"
	TransactionTransfer TransactionType = "transfer"
	TransactionUpgrade  TransactionType = "upgrade"
	TransactionReferral TransactionType = "referral"
)

// TransferType labels ownership changes in the transfer log.
type TransferType string

const (
	TransferGift     TransferType = "transfer"
	TransferPurchase TransferType = "purchase"
)

// SystemUserID is the from_user_id sentinel for primary sales.
const SystemUserID int64 = 0

type User struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	FirstName      string    `json:"first_name"`
	StarsBalance   int       `json:"stars_balance"`
	Spent          int       `json:"spent"`
	ReferrerID     *int64    `json:"referrer_id,omitempty"`
	ReferralsCount int       `json:"referrals_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Collection struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ImageKey    string    `json:"image_key"`
	ImageURL    string    `json:"image_url,omitempty"`
	Price       int       `json:"price"`
	TotalSupply int       `json:"total_supply"`
	SoldCount   int       `json:"sold_count"`
	Updateble   bool      `json:"updateble"`
	CreatedAt   time.Time `json:"created_at"`
}

// Available reports how many fresh items the collection can still mint.
func (c Collection) Available() int {
	return c.TotalSupply - c.SoldCount
}

type NFT struct {
	ID           int64     `json:"id"`
	CollectionID int64     `json:"collection_id"`
	OwnerID      int64     `json:"owner_id"`
	Number       int       `json:"number"`
	ModelID      *int64    `json:"model_id,omitempty"`
	BackgroundID *int64    `json:"background_id,omitempty"`
	PatternID    *int64    `json:"pattern_id,omitempty"`
	Upgraded     bool      `json:"upgraded"`
	Pinned       bool      `json:"pinned"`
	CreatedAt    time.Time `json:"created_at"`
}

// Attribute is a cosmetic trait row (model, background or pattern).
// Rarity is a positive integer; the upgrade draw weighs rows by 1/rarity,
// so higher rarity numbers come up proportionally less often.
type Attribute struct {
	ID           int64  `json:"id"`
	CollectionID int64  `json:"collection_id"`
	Name         string `json:"name"`
	Rarity       int    `json:"rarity"`
	ImageKey     string `json:"image_key"`
}

type SaleListing struct {
	NFTID     int64     `json:"nft_id"`
	SellerID  int64     `json:"seller_id"`
	Price     int       `json:"price"`
	CreatedAt time.Time `json:"created_at"`
}

// MarketItem is a sale listing joined with its item for market views.
type MarketItem struct {
	NFT    NFT       `json:"nft"`
	Seller int64     `json:"seller_id"`
	Price  int       `json:"price"`
	Listed time.Time `json:"listed_at"`
}

type Transaction struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Type      TransactionType `json:"type"`
	Amount    int             `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

type TransferLog struct {
	ID         int64        `json:"id"`
	Ref        string       `json:"ref"`
	NFTID      int64        `json:"nft_id"`
	FromUserID int64        `json:"from_user_id"`
	ToUserID   int64        `json:"to_user_id"`
	Type       TransferType `json:"type"`
	Amount     int          `json:"amount"`
	CreatedAt  time.Time    `json:"created_at"`
}
