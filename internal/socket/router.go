package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/velvetapps/StarMarket/internal/repository"
	"github.com/velvetapps/StarMarket/internal/service"
)

// InvoiceSender creates star top-up invoices in the user's chat.
type InvoiceSender interface {
	SendStarsInvoice(chatID int64, stars int) error
}

// Router maps named request events onto service calls. Every request event is
// answered with "<event>_result" carrying a Result body.
type Router struct {
	log      *slog.Logger
	users    *service.UserService
	nfts     *service.NFTService
	market   *service.MarketService
	currency *service.CurrencyService
	invoices InvoiceSender
}

func NewRouter(
	log *slog.Logger,
	users *service.UserService,
	nfts *service.NFTService,
	market *service.MarketService,
	currency *service.CurrencyService,
	invoices InvoiceSender,
) *Router {
	return &Router{
		log:      log,
		users:    users,
		nfts:     nfts,
		market:   market,
		currency: currency,
		invoices: invoices,
	}
}

func (r *Router) Dispatch(ctx context.Context, c *Client, env Envelope) {
	result := r.handle(ctx, c, env)
	c.respond(env.Event+"_result", result)
}

func (r *Router) handle(ctx context.Context, c *Client, env Envelope) Result {
	switch env.Event {
	case "get_balance":
		return r.getBalance(ctx, c)
	case "get_user_nfts":
		return r.getUserNFTs(ctx, c)
	case "get_nfts_for_sale":
		return r.getNFTsForSale(ctx, env.Data)
	case "get_collections":
		return r.getCollections(ctx)
	case "get_history":
		return r.getHistory(ctx, c, env.Data)
	case "get_currency":
		return r.getCurrency()
	case "buy_nft":
		return r.buyNFT(ctx, c, env.Data)
	case "buy_available_nft":
		return r.buyAvailableNFT(ctx, c, env.Data)
	case "transfer_nft":
		return r.transferNFT(ctx, c, env.Data)
	case "upgrade_nft":
		return r.upgradeNFT(ctx, c, env.Data)
	case "sell_nft":
		return r.sellNFT(ctx, c, env.Data)
	case "cancel_sale":
		return r.cancelSale(ctx, c, env.Data)
	case "pin_nft":
		return r.pinNFT(ctx, c, env.Data)
	case "buy_stars":
		return r.buyStars(c, env.Data)
	default:
		return Result{OK: false, Error: "unknown event"}
	}
}

func (r *Router) getBalance(ctx context.Context, c *Client) Result {
	user, err := r.users.Get(ctx, c.userID)
	if err != nil {
		return r.failure(err)
	}
	return Result{OK: true, Data: map[string]any{
		"stars_balance":   user.StarsBalance,
		"spent":           user.Spent,
		"referrals_count": user.ReferralsCount,
	}}
}

func (r *Router) getUserNFTs(ctx context.Context, c *Client) Result {
	items, err := r.nfts.OwnedBy(ctx, c.userID)
	if err != nil {
		return r.failure(err)
	}
	return Result{OK: true, Data: items}
}

func (r *Router) getNFTsForSale(ctx context.Context, data json.RawMessage) Result {
	var req struct {
		CollectionID int64 `json:"collection_id"`
		MinPrice     int   `json:"min_price"`
		MaxPrice     int   `json:"max_price"`
		Limit        int   `json:"limit"`
		Offset       int   `json:"offset"`
	}
	if err := parse(data, &req); err != nil {
		return Result{OK: false, Error: "malformed request"}
	}
	items, err := r.nfts.ForSale(ctx, repository.MarketFilter{
		CollectionID: req.CollectionID,
		MinPrice:     req.MinPrice,
		MaxPrice:     req.MaxPrice,
		Limit:        req.Limit,
		Offset:       req.Offset,
	})
	if err != nil {
		return r.failure(err)
	}
	return Result{OK: true, Data: items}
}

func (r *Router) getCollections(ctx context.Context) Result {
	collections, err := r.nfts.Collections(ctx)
	if err != nil {
		return r.failure(err)
	}
	return Result{OK: true, Data: collections}
}

func (r *Router) getHistory(ctx context.Context, c *Client, data json.RawMessage) Result {
	var req struct {
		Scope string `json:"scope"`
		Limit int    `json:"limit"`
	}
	if err := parse(data, &req); err != nil {
		return Result{OK: false, Error: "malformed request"}
	}
	if req.Scope == "global" {
		logs, err := r.nfts.GlobalHistory(ctx, req.Limit)
		if err != nil {
			return r.failure(err)
		}
		return Result{OK: true, Data: logs}
	}
	logs, err := r.nfts.UserHistory(ctx, c.userID, req.Limit)
	if err != nil {
		return r.failure(err)
	}
	return Result{OK: true, Data: logs}
}

func (r *Router) getCurrency() Result {
	rate, updatedAt := r.currency.Rate()
	return Result{OK: true, Data: map[string]any{
		"usd":        rate,
		"updated_at": updatedAt,
	}}
}

func (r *Router) buyNFT(ctx context.Context, c *Client, data json.RawMessage) Result {
	var req struct {
		NFTID int64 `json:"nft_id"`
		Price int   `json:"price"`
	}
	if err := parse(data, &req); err != nil || req.NFTID <= 0 {
		return Result{OK: false, Error: "malformed request"}
	}
	result, err := r.market.Purchase(ctx, req.NFTID, c.userID, req.Price)
	if err != nil {
		return r.failure(err)
	}
	return Result{OK: true, Data: result}
}

func (r *Router) buyAvailableNFT(ctx context.Context, c *Client, data json.RawMessage) Result {
	var req struct {
		CollectionID int64 `json:"collection_id"`
		Price        int   `json:"price"`
	}
	if err := parse(data, &req); err != nil || req.CollectionID <= 0 {
		return Result{OK: false, Error: "malformed request"}
	}
	result, err := r.market.PurchasePrimary(ctx, req.CollectionID, c.userID, req.Price)
	if err != nil {
		return r.failure(err)
	}
	return Result{OK: true, Data: result}
}

func (r *Router) transferNFT(ctx context.Context, c *Client, data json.RawMessage) Result {
	var req struct {
		NFTID    int64 `json:"nft_id"`
		ToUserID int64 `json:"to_user_id"`
	}
	if err := parse(data, &req); err != nil || req.NFTID <= 0 || req.ToUserID <= 0 {
		return Result{OK: false, Error: "malformed request"}
	}
	if req.ToUserID == c.userID {
		return Result{OK: false, Error: "cannot transfer to yourself"}
	}
	result, err := r.market.Transfer(ctx, req.NFTID, c.userID, req.ToUserID)
	if err != nil {
		return r.failure(err)
	}
	return Result{OK: true, Data: result}
}

func (r *Router) upgradeNFT(ctx context.Context, c *Client, data json.RawMessage) Result {
	var req struct {
		NFTID int64 `json:"nft_id"`
	}
	if err := parse(data, &req); err != nil || req.NFTID <= 0 {
		return Result{OK: false, Error: "malformed request"}
	}
	result, err := r.market.Upgrade(ctx, req.NFTID, c.userID)
	if err != nil {
		return r.failure(err)
	}
	return Result{OK: true, Data: result}
}

func (r *Router) sellNFT(ctx context.Context, c *Client, data json.RawMessage) Result {
	var req struct {
		NFTID int64 `json:"nft_id"`
		Price int   `json:"price"`
	}
	if err := parse(data, &req); err != nil || req.NFTID <= 0 {
		return Result{OK: false, Error: "malformed request"}
	}
	if err := r.nfts.Sell(ctx, req.NFTID, c.userID, req.Price); err != nil {
		return r.failure(err)
	}
	return Result{OK: true}
}

func (r *Router) cancelSale(ctx context.Context, c *Client, data json.RawMessage) Result {
	var req struct {
		NFTID int64 `json:"nft_id"`
	}
	if err := parse(data, &req); err != nil || req.NFTID <= 0 {
		return Result{OK: false, Error: "malformed request"}
	}
	if err := r.nfts.CancelSale(ctx, req.NFTID, c.userID); err != nil {
		return r.failure(err)
	}
	return Result{OK: true}
}

func (r *Router) pinNFT(ctx context.Context, c *Client, data json.RawMessage) Result {
	var req struct {
		NFTID  int64 `json:"nft_id"`
		Pinned bool  `json:"pinned"`
	}
	if err := parse(data, &req); err != nil || req.NFTID <= 0 {
		return Result{OK: false, Error: "malformed request"}
	}
	if err := r.nfts.SetPinned(ctx, req.NFTID, c.userID, req.Pinned); err != nil {
		return r.failure(err)
	}
	return Result{OK: true}
}

func (r *Router) buyStars(c *Client, data json.RawMessage) Result {
	var req struct {
		Stars int `json:"stars"`
	}
	if err := parse(data, &req); err != nil || req.Stars <= 0 {
		return Result{OK: false, Error: "malformed request"}
	}
	// Private chat id equals the Telegram user id.
	if err := r.invoices.SendStarsInvoice(c.userID, req.Stars); err != nil {
		r.log.Error("send stars invoice", "user", c.userID, "err", err)
		return Result{OK: false, Error: "could not create invoice"}
	}
	return Result{OK: true}
}

// knownErrors are precondition and race failures whose messages are safe to
// surface verbatim.
var knownErrors = []error{
	service.ErrUserNotFound,
	service.ErrItemNotFound,
	service.ErrCollectionNotFound,
	service.ErrNotOwner,
	service.ErrInsufficientBalance,
	service.ErrListingGone,
	service.ErrPriceChanged,
	service.ErrOwnListing,
	service.ErrSoldOut,
	service.ErrAlreadyUpgraded,
	service.ErrUpgradeUnavailable,
	service.ErrPriceOutOfRange,
}

func (r *Router) failure(err error) Result {
	for _, known := range knownErrors {
		if errors.Is(err, known) {
			return Result{OK: false, Error: known.Error()}
		}
	}
	r.log.Error("handler failed", "err", err)
	return Result{OK: false, Error: "internal error"}
}

func parse(data json.RawMessage, into any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, into)
}
