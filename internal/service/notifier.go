package service

// Event names pushed to connected clients.
const (
	EventBalanceUpdated    = "balance_updated"
	EventNFTsUpdated       = "nfts_updated"
	EventMarketUpdated     = "market_updated"
	EventCollectionUpdated = "collection_updated"
	EventCurrencyUpdated   = "currency_updated"
)

// Notifier pushes events to connected clients. SendToUser is best-effort: a
// user without a live connection is silently skipped.
type Notifier interface {
	SendToUser(userID int64, event string, payload any)
	Broadcast(event string, payload any)
}

// NopNotifier discards all events. Used in tests and tools.
type NopNotifier struct{}

func (NopNotifier) SendToUser(int64, string, any) {}
func (NopNotifier) Broadcast(string, any)         {}
