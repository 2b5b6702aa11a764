package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/certhub/backend/internal/models"
)

// WalletService owns ledger accounts and their append-only transaction
// log. The Tx-suffixed mutators run inside a caller-supplied *sql.Tx
// and never commit on their own; wallet rows are locked with
// SELECT ... FOR UPDATE so balance checks hold under concurrency.
type WalletService struct {
	db        *sql.DB
	gateway   Gateway
	validator *ValidationHelper
}

func NewWalletService(db *sql.DB, gateway Gateway) *WalletService {
	return &WalletService{
		db:        db,
		gateway:   gateway,
		validator: NewValidationHelper(),
	}
}

// CreditTx adds amount to the user's wallet, creating it lazily with a
// zero balance. Both balance and total_balance grow; total_balance is
// the monotonic sum of all credits.
func (s *WalletService) CreditTx(tx *sql.Tx, userID int, amount decimal.Decimal) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	if err := s.ensureWalletTx(tx, userID); err != nil {
		return nil, err
	}

	wallet, err := s.lockWalletTx(tx, userID)
	if err != nil {
		return nil, err
	}

	wallet.Balance = wallet.Balance.Add(amount)
	wallet.TotalBalance = wallet.TotalBalance.Add(amount)
	if err := s.updateWalletTx(tx, wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

// DebitTx subtracts amount from the user's wallet. The wallet must
// exist and the resulting balance must stay non-negative; otherwise
// nothing is written and the caller's transaction should roll back.
func (s *WalletService) DebitTx(tx *sql.Tx, userID int, amount decimal.Decimal) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	wallet, err := s.lockWalletTx(tx, userID)
	if err != nil {
		return nil, err
	}

	newBalance := wallet.Balance.Sub(amount)
	if newBalance.IsNegative() {
		return nil, ErrInsufficientBalance
	}

	wallet.Balance = newBalance
	if err := s.updateWalletTx(tx, wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

// TransferTx moves amount from one user's wallet to another's inside
// the caller's transaction, writing a DEBIT and a CREDIT entry to the
// transaction log under the given correlation id. Wallet rows are
// locked in ascending user id order to prevent deadlocks.
func (s *WalletService) TransferTx(tx *sql.Tx, fromUserID, toUserID int, correlationID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	// The receiving wallet may not exist yet; create it before taking
	// locks so the lock ordering below sees both rows.
	if err := s.ensureWalletTx(tx, toUserID); err != nil {
		return err
	}

	firstID, secondID := fromUserID, toUserID
	if firstID > secondID {
		firstID, secondID = secondID, firstID
	}

	first, err := s.lockWalletTx(tx, firstID)
	if err != nil {
		return err
	}
	second, err := s.lockWalletTx(tx, secondID)
	if err != nil {
		return err
	}

	from, to := first, second
	if firstID != fromUserID {
		from, to = second, first
	}

	newFromBalance := from.Balance.Sub(amount)
	if newFromBalance.IsNegative() {
		return ErrInsufficientBalance
	}

	from.Balance = newFromBalance
	if err := s.updateWalletTx(tx, from); err != nil {
		return err
	}

	to.Balance = to.Balance.Add(amount)
	to.TotalBalance = to.TotalBalance.Add(amount)
	if err := s.updateWalletTx(tx, to); err != nil {
		return err
	}

	if err := s.recordTransactionTx(tx, from.ID, correlationID+"-debit", models.TxTypeDebit, amount, models.TxStatusSuccess); err != nil {
		return err
	}
	if err := s.recordTransactionTx(tx, to.ID, correlationID+"-credit", models.TxTypeCredit, amount, models.TxStatusSuccess); err != nil {
		return err
	}

	return nil
}

// GetBalanceValue returns the user's spendable balance, zero when no
// wallet exists yet. Read only.
func (s *WalletService) GetBalanceValue(ctx context.Context, userID int) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE user_id = $1`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

func (s *WalletService) lockWalletTx(tx *sql.Tx, userID int) (*models.Wallet, error) {
	var w models.Wallet
	err := tx.QueryRow(`
		SELECT id, user_id, balance, total_balance, version, updated_at
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE`, userID).
		Scan(&w.ID, &w.UserID, &w.Balance, &w.TotalBalance, &w.Version, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *WalletService) ensureWalletTx(tx *sql.Tx, userID int) error {
	_, err := tx.Exec(`
		INSERT INTO wallets (user_id, balance, total_balance, version, created_at, updated_at)
		VALUES ($1, 0, 0, 1, $2, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, time.Now())
	return err
}

func (s *WalletService) updateWalletTx(tx *sql.Tx, w *models.Wallet) error {
	result, err := tx.Exec(`
		UPDATE wallets
		SET balance = $1, total_balance = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5`,
		w.Balance, w.TotalBalance, time.Now(), w.ID, w.Version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for wallet %d", w.ID)
	}

	w.Version++
	return nil
}

func (s *WalletService) recordTransactionTx(tx *sql.Tx, walletID int, merchantOrderID, txType string, amount decimal.Decimal, status string) error {
	_, err := tx.Exec(`
		INSERT INTO wallet_transactions (wallet_id, merchant_order_id, type, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		walletID, merchantOrderID, txType, amount, status, time.Now())
	if isUniqueViolation(err) {
		return ErrDuplicateOrder
	}
	return err
}

// settleTx marks the PENDING entry of a correlation id terminal,
// attaching the gateway transaction id and raw payment details.
// Terminal entries are never edited again.
func (s *WalletService) settleTx(tx *sql.Tx, merchantOrderID, transactionID, status string, details models.Metadata) error {
	result, err := tx.Exec(`
		UPDATE wallet_transactions
		SET transaction_id = $1, status = $2, payment_details = $3
		WHERE merchant_order_id = $4 AND status = $5`,
		transactionID, status, details, merchantOrderID, models.TxStatusPending)
	if isUniqueViolation(err) {
		return ErrDuplicateOrder
	}
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (s *WalletService) pendingTransactionTx(tx *sql.Tx, merchantOrderID string) (*models.WalletTransaction, int, error) {
	var entry models.WalletTransaction
	var userID int
	err := tx.QueryRow(`
		SELECT t.id, t.wallet_id, t.merchant_order_id, t.type, t.amount, t.status, w.user_id
		FROM wallet_transactions t
		JOIN wallets w ON w.id = t.wallet_id
		WHERE t.merchant_order_id = $1 AND t.status = $2
		FOR UPDATE OF t`, merchantOrderID, models.TxStatusPending).
		Scan(&entry.ID, &entry.WalletID, &entry.MerchantOrderID, &entry.Type, &entry.Amount, &entry.Status, &userID)
	if err == sql.ErrNoRows {
		return nil, 0, ErrTransactionNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	return &entry, userID, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// parseAmount parses a decimal money amount. Amounts carry at most two
// decimal places; anything finer is rejected instead of rounded.
func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount, nil
}

// GetBalance returns the caller's wallet balance
// @Summary Get wallet balance
// @Description Retrieve the caller's current spendable wallet balance
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{balance=string}
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /wallet/balance [get]
func (s *WalletService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := s.GetBalanceValue(r.Context(), userID)
	if err != nil {
		log.Printf("[WALLET] Failed to fetch balance for user %d: %v", userID, err)
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"balance": balance.StringFixed(2)})
}

// GetTransactions lists the caller's wallet transactions
// @Summary List wallet transactions
// @Description Retrieve the caller's wallet transaction history, newest first
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{transactions=[]models.WalletTransaction,count=int}
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /wallet/transactions [get]
func (s *WalletService) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := s.db.QueryContext(r.Context(), `
		SELECT t.id, t.wallet_id, t.merchant_order_id, t.transaction_id, t.type, t.amount, t.status, t.payment_details, t.created_at
		FROM wallet_transactions t
		JOIN wallets w ON w.id = t.wallet_id
		WHERE w.user_id = $1
		ORDER BY t.created_at DESC`, userID)
	if err != nil {
		log.Printf("[WALLET] Failed to fetch transactions for user %d: %v", userID, err)
		SendServiceError(w, err)
		return
	}
	defer rows.Close()

	transactions := []models.WalletTransaction{}
	for rows.Next() {
		var t models.WalletTransaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.MerchantOrderID, &t.TransactionID, &t.Type, &t.Amount, &t.Status, &t.PaymentDetails, &t.CreatedAt); err != nil {
			log.Printf("[WALLET] Failed to scan transaction row: %v", err)
			SendServiceError(w, err)
			return
		}
		transactions = append(transactions, t)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// InitiateTopup starts a wallet top-up via the payment gateway
// @Summary Initiate wallet top-up
// @Description Record a pending credit and create a payment gateway order for it
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.TopupRequest true "Top-up request"
// @Success 200 {object} object{orderId=string,merchantOrderId=string}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /wallet/topup [post]
func (s *WalletService) InitiateTopup(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req models.TopupRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	merchantOrderID := uuid.NewString()

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[WALLET] Failed to begin topup transaction: %v", err)
		SendServiceError(w, err)
		return
	}
	defer tx.Rollback()

	if err := s.ensureWalletTx(tx, userID); err != nil {
		log.Printf("[WALLET] Failed to ensure wallet for user %d: %v", userID, err)
		SendServiceError(w, err)
		return
	}

	wallet, err := s.lockWalletTx(tx, userID)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	if err := s.recordTransactionTx(tx, wallet.ID, merchantOrderID, models.TxTypeCredit, amount, models.TxStatusPending); err != nil {
		SendServiceError(w, err)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[WALLET] Failed to commit topup transaction: %v", err)
		SendServiceError(w, err)
		return
	}

	order, err := s.gateway.CreateOrder(r.Context(), amount, merchantOrderID)
	if err != nil {
		log.Printf("[WALLET] Gateway order creation failed for %s: %v", merchantOrderID, err)
		SendErrorResponse(w, "Payment gateway unavailable", http.StatusBadGateway, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"key":             viper.GetString("gateway.key_id"),
		"orderId":         order.OrderID,
		"amount":          order.AmountMinor,
		"currency":        order.Currency,
		"merchantOrderId": merchantOrderID,
		"callbackUrl":     viper.GetString("gateway.callback_url"),
	})
}

// InitiatePayout starts a distributor withdrawal
// @Summary Initiate wallet payout
// @Description Debit the caller's wallet, hold the amount as a pending debit and create a gateway payout order
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.PayoutRequest true "Payout request"
// @Success 200 {object} object{orderId=string,merchantOrderId=string}
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /wallet/payout [post]
func (s *WalletService) InitiatePayout(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req models.PayoutRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	merchantOrderID := uuid.NewString()

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[WALLET] Failed to begin payout transaction: %v", err)
		SendServiceError(w, err)
		return
	}
	defer tx.Rollback()

	// Debit up front so the held amount cannot be double-spent while
	// the gateway order is in flight. A FAILED callback releases it.
	wallet, err := s.DebitTx(tx, userID, amount)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	if err := s.recordTransactionTx(tx, wallet.ID, merchantOrderID, models.TxTypeDebit, amount, models.TxStatusPending); err != nil {
		SendServiceError(w, err)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[WALLET] Failed to commit payout transaction: %v", err)
		SendServiceError(w, err)
		return
	}

	order, err := s.gateway.CreateOrder(r.Context(), amount, merchantOrderID)
	if err != nil {
		log.Printf("[WALLET] Gateway payout order failed for %s: %v", merchantOrderID, err)
		SendErrorResponse(w, "Payment gateway unavailable", http.StatusBadGateway, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"orderId":         order.OrderID,
		"amount":          order.AmountMinor,
		"currency":        order.Currency,
		"merchantOrderId": merchantOrderID,
	})
}

// PaymentCallback settles a pending wallet transaction
// @Summary Payment gateway callback
// @Description Verify the gateway callback and settle the matching pending wallet transaction
// @Tags wallet
// @Accept json
// @Produce json
// @Param callback body models.GatewayCallback true "Gateway callback payload"
// @Success 200 {object} object{success=bool}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /wallet/callback [post]
func (s *WalletService) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var payload models.GatewayCallback
	if !decodeJSONBody(w, r, &payload) {
		return
	}
	if err := s.validator.ValidateStruct(&payload); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := s.gateway.VerifyCallback(&payload); err != nil {
		log.Printf("[WALLET] Callback verification failed for %s: %v", payload.MerchantOrderID, err)
		SendErrorResponse(w, "Callback verification failed", http.StatusBadRequest, nil)
		return
	}

	amount, err := parseAmount(payload.Amount)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[WALLET] Failed to begin callback transaction: %v", err)
		SendServiceError(w, err)
		return
	}
	defer tx.Rollback()

	entry, userID, err := s.pendingTransactionTx(tx, payload.MerchantOrderID)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	switch {
	case entry.Type == models.TxTypeCredit && payload.State == models.TxStatusSuccess:
		// Top-up confirmed: credit the wallet.
		if _, err := s.CreditTx(tx, userID, amount); err != nil {
			SendServiceError(w, err)
			return
		}
	case entry.Type == models.TxTypeDebit && payload.State == models.TxStatusFailed:
		// Payout failed at the gateway: release the held amount.
		if _, err := s.CreditTx(tx, userID, entry.Amount); err != nil {
			SendServiceError(w, err)
			return
		}
	}

	if err := s.settleTx(tx, payload.MerchantOrderID, payload.TransactionID, payload.State, payload.PaymentDetails); err != nil {
		SendServiceError(w, err)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[WALLET] Failed to commit callback transaction: %v", err)
		SendServiceError(w, err)
		return
	}

	log.Printf("[WALLET] Transaction %s settled as %s", payload.MerchantOrderID, payload.State)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": payload.State == models.TxStatusSuccess})
}

// callerID extracts the authenticated user id set by the auth middleware.
func callerID(r *http.Request) (int, bool) {
	raw, ok := r.Context().Value("userID").(string)
	if !ok || raw == "" {
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// decodeJSONBody decodes a single JSON object request body, rejecting
// oversized payloads, unknown fields and trailing data. It writes the
// error response itself and reports whether decoding succeeded.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dest); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}
