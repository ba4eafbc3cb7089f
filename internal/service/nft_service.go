package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/velvetapps/StarMarket/internal/models"
	"github.com/velvetapps/StarMarket/internal/repository"
)

var ErrPriceOutOfRange = errors.New("price out of allowed range")

// ListingBounds limits what a seller may ask for an item.
type ListingBounds struct {
	Min int
	Max int
}

type NFTService struct {
	nfts        *repository.NFTRepository
	collections *repository.CollectionRepository
	listings    *repository.ListingRepository
	transfers   *repository.TransferRepository
	attributes  *repository.AttributeRepository
	notifier    Notifier
	bounds      ListingBounds
	imageBase   string
}

func NewNFTService(
	nfts *repository.NFTRepository,
	collections *repository.CollectionRepository,
	listings *repository.ListingRepository,
	transfers *repository.TransferRepository,
	attributes *repository.AttributeRepository,
	notifier Notifier,
	bounds ListingBounds,
	imageBase string,
) *NFTService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if bounds.Min < 1 {
		bounds.Min = 1
	}
	if bounds.Max < bounds.Min {
		bounds.Max = 1000000
	}
	return &NFTService{
		nfts:        nfts,
		collections: collections,
		listings:    listings,
		transfers:   transfers,
		attributes:  attributes,
		notifier:    notifier,
		bounds:      bounds,
		imageBase:   strings.TrimRight(imageBase, "/"),
	}
}

// ImageURL resolves a stored artwork key to its public URL.
func (s *NFTService) ImageURL(key string) string {
	if key == "" {
		return ""
	}
	return s.imageBase + "/" + strings.TrimLeft(key, "/")
}

func (s *NFTService) Collections(ctx context.Context) ([]models.Collection, error) {
	collections, err := s.collections.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range collections {
		collections[i].ImageURL = s.ImageURL(collections[i].ImageKey)
	}
	return collections, nil
}

func (s *NFTService) Collection(ctx context.Context, id int64) (*models.Collection, error) {
	c, err := s.collections.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCollectionNotFound
	}
	c.ImageURL = s.ImageURL(c.ImageKey)
	return c, nil
}

func (s *NFTService) OwnedBy(ctx context.Context, ownerID int64) ([]models.NFT, error) {
	return s.nfts.ListByOwner(ctx, ownerID)
}

func (s *NFTService) ForSale(ctx context.Context, filter repository.MarketFilter) ([]models.MarketItem, error) {
	return s.listings.ListForSale(ctx, filter)
}

func (s *NFTService) UserHistory(ctx context.Context, userID int64, limit int) ([]models.TransferLog, error) {
	return s.transfers.ListByUser(ctx, userID, limit)
}

func (s *NFTService) GlobalHistory(ctx context.Context, limit int) ([]models.TransferLog, error) {
	return s.transfers.ListRecent(ctx, limit)
}

// Sell puts an owned item on the market, or re-prices the seller's existing
// listing. No money moves until somebody buys.
func (s *NFTService) Sell(ctx context.Context, nftID, sellerID int64, price int) error {
	if price < s.bounds.Min || price > s.bounds.Max {
		return ErrPriceOutOfRange
	}
	item, err := s.nfts.GetByID(ctx, nftID)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrItemNotFound
	}
	if item.OwnerID != sellerID {
		return ErrNotOwner
	}
	listing := &models.SaleListing{NFTID: nftID, SellerID: sellerID, Price: price}
	if err := s.listings.Upsert(ctx, listing); err != nil {
		return err
	}
	s.notifier.Broadcast(EventMarketUpdated, nil)
	return nil
}

// CancelSale takes the seller's own listing off the market.
func (s *NFTService) CancelSale(ctx context.Context, nftID, sellerID int64) error {
	ok, err := s.listings.Delete(ctx, nftID, sellerID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrListingGone
	}
	s.notifier.Broadcast(EventMarketUpdated, nil)
	return nil
}

func (s *NFTService) SetPinned(ctx context.Context, nftID, ownerID int64, pinned bool) error {
	ok, err := s.nfts.SetPinned(ctx, nftID, ownerID, pinned)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotOwner
	}
	return nil
}

// CreateCollection registers a new primary-sale pool (admin surface).
func (s *NFTService) CreateCollection(ctx context.Context, c *models.Collection) error {
	if c.Name == "" {
		return fmt.Errorf("collection name required")
	}
	if c.Price < 1 {
		return fmt.Errorf("collection price must be positive")
	}
	if c.TotalSupply < 1 {
		return fmt.Errorf("collection supply must be positive")
	}
	if err := s.collections.Create(ctx, c); err != nil {
		return err
	}
	s.notifier.Broadcast(EventCollectionUpdated, map[string]any{"collection_id": c.ID})
	return nil
}

func (s *NFTService) UpdateCollection(ctx context.Context, c *models.Collection) error {
	existing, err := s.collections.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrCollectionNotFound
	}
	if c.TotalSupply < existing.SoldCount {
		return fmt.Errorf("total supply cannot drop below sold count %d", existing.SoldCount)
	}
	if err := s.collections.Update(ctx, c); err != nil {
		return err
	}
	s.notifier.Broadcast(EventCollectionUpdated, map[string]any{"collection_id": c.ID})
	return nil
}

// AddAttribute extends a collection's cosmetic pool (admin surface).
func (s *NFTService) AddAttribute(ctx context.Context, kind repository.AttributeKind, a *models.Attribute) error {
	collection, err := s.collections.GetByID(ctx, a.CollectionID)
	if err != nil {
		return err
	}
	if collection == nil {
		return ErrCollectionNotFound
	}
	return s.attributes.Insert(ctx, kind, a)
}

func (s *NFTService) Attributes(ctx context.Context, kind repository.AttributeKind, collectionID int64) ([]models.Attribute, error) {
	return s.attributes.ListByCollection(ctx, kind, collectionID)
}
