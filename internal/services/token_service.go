// internal/services/token_service.go
package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/plotloom/plotloom/internal/errors"
	"github.com/plotloom/plotloom/internal/models"
	"github.com/plotloom/plotloom/internal/storage"
	"github.com/plotloom/plotloom/internal/utils"
)

// endpointEstimates maps generation endpoints to their flat token cost
// estimate. Unknown endpoints fall back to DefaultTokenEstimate.
var endpointEstimates = map[string]int{
	"content.generate":    1200,
	"narrative.theme":     800,
	"narrative.breakdown": 1500,
	"narrative.week":      700,
}

// DefaultTokenEstimate is charged for endpoints with no entry in the
// estimates table.
const DefaultTokenEstimate = 300

// EstimateTokens returns the flat estimate for an endpoint.
func EstimateTokens(endpoint string) int {
	if est, ok := endpointEstimates[endpoint]; ok {
		return est
	}
	return DefaultTokenEstimate
}

// TokenService guards generation behind per-user token balances. The
// check-then-deduct window is closed per user: Deduct re-reads the
// balance under the user's mutex, so a concurrent spend between the
// pre-flight check and the deduction is rejected, never overdrawn.
type TokenService struct {
	storage *storage.FileStorage

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewTokenService creates a token service over the given storage.
func NewTokenService(fileStorage *storage.FileStorage) *TokenService {
	return &TokenService{
		storage:   fileStorage,
		userLocks: make(map[string]*sync.Mutex),
	}
}

const (
	tokenAccountsDir = "tokens/accounts"
	tokenAuditDir    = "tokens/audit"
)

func (s *TokenService) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.userLocks[userID] = lock
	}
	return lock
}

func accountFile(userID string) string {
	return userID + ".json"
}

// loadAccount reads the account record, defaulting to a zero balance.
func (s *TokenService) loadAccount(userID string) (*models.TokenAccount, error) {
	account := &models.TokenAccount{UserID: userID}
	if !s.storage.FileExists(tokenAccountsDir, accountFile(userID)) {
		return account, nil
	}
	if err := s.storage.LoadJSONFile(tokenAccountsDir, accountFile(userID), account); err != nil {
		return nil, apperrors.WrapError(err, "failed to load token account", apperrors.ErrorTypeProcessing)
	}
	return account, nil
}

func (s *TokenService) saveAccount(account *models.TokenAccount) error {
	account.UpdatedAt = time.Now()
	if err := s.storage.SaveJSONFile(tokenAccountsDir, accountFile(account.UserID), account); err != nil {
		return apperrors.WrapError(err, "failed to save token account", apperrors.ErrorTypeProcessing)
	}
	return nil
}

// GetBalance returns the user's current balance.
func (s *TokenService) GetBalance(userID string) (int, error) {
	if userID == "" {
		return 0, apperrors.NewValidationError("user id is required", nil)
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	account, err := s.loadAccount(userID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// Grant credits tokens to a user's balance.
func (s *TokenService) Grant(userID string, amount int) (int, error) {
	if userID == "" {
		return 0, apperrors.NewValidationError("user id is required", nil)
	}
	if amount <= 0 {
		return 0, apperrors.NewValidationError("grant amount must be positive", nil)
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	account, err := s.loadAccount(userID)
	if err != nil {
		return 0, err
	}
	account.Balance += amount
	if err := s.saveAccount(account); err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// CheckBalance is the advisory pre-flight: it reports whether the
// balance currently covers the endpoint's estimate, without reserving
// anything. The binding decision happens in Deduct.
func (s *TokenService) CheckBalance(userID, endpoint string) error {
	balance, err := s.GetBalance(userID)
	if err != nil {
		return err
	}

	estimated := EstimateTokens(endpoint)
	if balance < estimated {
		return apperrors.NewBudgetExceededError(
			fmt.Sprintf("insufficient tokens for %s: have %d, need %d", endpoint, balance, estimated),
			balance, estimated)
	}
	return nil
}

// Deduct charges the endpoint's estimate against the user's balance
// and writes an audit record either way. A balance that no longer
// covers the estimate yields a rejected transaction and a balance-race
// error; the balance is never driven negative.
func (s *TokenService) Deduct(userID, endpoint string) (*models.TokenTransaction, error) {
	if userID == "" {
		return nil, apperrors.NewValidationError("user id is required", nil)
	}

	estimated := EstimateTokens(endpoint)

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	account, err := s.loadAccount(userID)
	if err != nil {
		return nil, err
	}

	tx := &models.TokenTransaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Endpoint:  endpoint,
		Amount:    estimated,
		CreatedAt: time.Now(),
	}

	if account.Balance < estimated {
		tx.Status = models.TransactionRejected
		tx.Reason = fmt.Sprintf("balance %d below estimate %d", account.Balance, estimated)
		tx.BalanceAfter = account.Balance
		s.appendAudit(tx)
		utils.GetMetricsCollector().IncrementCounter("token_deductions_rejected")
		return tx, apperrors.NewBalanceRaceError(
			fmt.Sprintf("balance changed before deduction for %s", endpoint))
	}

	account.Balance -= estimated
	if err := s.saveAccount(account); err != nil {
		return nil, err
	}

	tx.Status = models.TransactionSuccess
	tx.BalanceAfter = account.Balance
	s.appendAudit(tx)
	utils.GetMetricsCollector().IncrementCounter("token_deductions_total")
	return tx, nil
}

// appendAudit writes the transaction to the user's audit log. Audit
// failures are logged, not propagated: the deduction itself already
// happened.
func (s *TokenService) appendAudit(tx *models.TokenTransaction) {
	file := fmt.Sprintf("%s.jsonl", tx.UserID)
	if err := s.storage.AppendJSONLine(tokenAuditDir, file, tx); err != nil {
		utils.GetLogger().Errorf("failed to append token audit record for user %s: %v", tx.UserID, err)
	}
}
