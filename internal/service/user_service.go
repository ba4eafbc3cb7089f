package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/velvetapps/StarMarket/internal/models"
	"github.com/velvetapps/StarMarket/internal/repository"
)

var ErrSelfReferral = errors.New("cannot refer yourself")

type UserService struct {
	users        *repository.UserRepository
	transactions *repository.TransactionRepository
	notifier     Notifier
}

func NewUserService(users *repository.UserRepository, transactions *repository.TransactionRepository, notifier Notifier) *UserService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &UserService{users: users, transactions: transactions, notifier: notifier}
}

// Ensure creates the user on first contact. The referrer binding is permanent:
// it is only set at creation time and ignored for existing users.
func (s *UserService) Ensure(ctx context.Context, id int64, username, firstName string, referrerID *int64) (*models.User, bool, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("find user: %w", err)
	}
	if user != nil {
		if username != user.Username || firstName != user.FirstName {
			if err := s.users.UpdateProfile(ctx, user.ID, username, firstName); err != nil {
				return nil, false, fmt.Errorf("refresh profile: %w", err)
			}
			user.Username = username
			user.FirstName = firstName
		}
		return user, false, nil
	}

	if referrerID != nil {
		if *referrerID == id {
			return nil, false, ErrSelfReferral
		}
		referrer, err := s.users.FindByID(ctx, *referrerID)
		if err != nil {
			return nil, false, fmt.Errorf("find referrer: %w", err)
		}
		if referrer == nil {
			// Unknown referral payloads are dropped, not rejected.
			referrerID = nil
		}
	}

	newUser := &models.User{
		ID:         id,
		Username:   username,
		FirstName:  firstName,
		ReferrerID: referrerID,
	}
	if err := s.users.Create(ctx, newUser); err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	if referrerID != nil {
		if err := s.users.IncrementReferrals(ctx, *referrerID); err != nil {
			return nil, false, fmt.Errorf("count referral: %w", err)
		}
	}
	return newUser, true, nil
}

func (s *UserService) Get(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Deposit credits purchased stars and appends a ledger entry.
func (s *UserService) Deposit(ctx context.Context, userID int64, stars int) error {
	if stars <= 0 {
		return fmt.Errorf("deposit amount must be positive, got %d", stars)
	}
	user, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.users.AddBalance(ctx, userID, stars); err != nil {
		return fmt.Errorf("credit deposit: %w", err)
	}
	entry := &models.Transaction{UserID: userID, Type: models.TransactionDeposit, Amount: stars}
	if err := s.transactions.Insert(ctx, entry); err != nil {
		return fmt.Errorf("deposit ledger entry: %w", err)
	}
	s.notifier.SendToUser(userID, EventBalanceUpdated, map[string]any{"stars_balance": user.StarsBalance + stars})
	return nil
}

func (s *UserService) Transactions(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	return s.transactions.ListByUser(ctx, userID, limit)
}

func (s *UserService) ListIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.users.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	return ids, nil
}
