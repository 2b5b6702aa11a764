package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/certhub/backend/internal/config"
	"github.com/certhub/backend/internal/models"
)

var documentTestColumns = []string{
	"document_id", "user_id", "category_id", "category_name", "subcategory_id", "subcategory_name",
	"name", "email", "phone", "address", "application_id", "documents", "document_fields", "status",
	"distributor_id", "rejection_reason", "selected_document_names", "receipt_url", "remark",
	"status_history", "status_updated_at", "uploaded_at",
}

func documentRow(status string, distributorID any) *sqlmock.Rows {
	return sqlmock.NewRows(documentTestColumns).AddRow(
		12, 3, 1, "Education", 2, "Transcript Certification",
		"Asha Rao", "asha@example.com", "9990001111", "12 Lake Road", "APP-001", `[]`, `{}`, status,
		distributorID, nil, nil, nil, "",
		`[{"status":"Pending","updated_at":"2026-01-01T10:00:00Z"}]`, time.Now(), time.Now(),
	)
}

func newTestDocumentService(db *sql.DB, redisClient *redis.Client) *DocumentService {
	cfg := &config.SettlementConfig{
		AdminUserID:     5,
		HistoryCacheTTL: time.Minute,
		NotifyTimeout:   time.Second,
	}
	wallet := NewWalletService(db, nil)
	prices := NewPriceService(db)
	return NewDocumentService(db, redisClient, wallet, prices, &LogNotifier{}, cfg)
}

func TestDocumentService_applyStatusUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newTestDocumentService(db, nil)

	t.Run("approval appends to the history", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("FROM documents WHERE document_id = \\$1 FOR UPDATE").
			WithArgs(12).
			WillReturnRows(documentRow("Pending", nil))
		mock.ExpectExec("UPDATE documents SET status = \\$1, status_history = \\$2").
			WithArgs("Approved", sqlmock.AnyArg(), nil, nil, sqlmock.AnyArg(), 12).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		document, err := service.applyStatusUpdate(context.Background(), 12, &models.UpdateStatusRequest{Status: "Approved"})
		assert.NoError(t, err)
		assert.Equal(t, "Approved", document.Status)
		assert.Len(t, document.StatusHistory, 2)
		assert.Equal(t, "Pending", document.StatusHistory[0].Status)
		assert.Equal(t, "Approved", document.StatusHistory[1].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejection requires a reason", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("FROM documents WHERE document_id = \\$1 FOR UPDATE").
			WithArgs(12).
			WillReturnRows(documentRow("Pending", nil))
		mock.ExpectRollback()

		_, err := service.applyStatusUpdate(context.Background(), 12, &models.UpdateStatusRequest{
			Status:          "Rejected",
			RejectionReason: "   ",
		})
		assert.ErrorIs(t, err, ErrRejectionReasonRequired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejection stores reason and document names", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("FROM documents WHERE document_id = \\$1 FOR UPDATE").
			WithArgs(12).
			WillReturnRows(documentRow("Pending", nil))
		mock.ExpectExec("UPDATE documents SET status = \\$1, status_history = \\$2").
			WithArgs("Rejected", sqlmock.AnyArg(), "transcript scan is blurred", sqlmock.AnyArg(), sqlmock.AnyArg(), 12).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		document, err := service.applyStatusUpdate(context.Background(), 12, &models.UpdateStatusRequest{
			Status:                "Rejected",
			RejectionReason:       "transcript scan is blurred",
			SelectedDocumentNames: []string{"transcript.pdf"},
		})
		assert.NoError(t, err)
		assert.Equal(t, "transcript scan is blurred", *document.RejectionReason)
		assert.Equal(t, models.StringList{"transcript.pdf"}, document.SelectedDocumentNames)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("status outside the known set never opens a transaction", func(t *testing.T) {
		_, err := service.applyStatusUpdate(context.Background(), 12, &models.UpdateStatusRequest{Status: "Archived"})
		assert.ErrorIs(t, err, ErrInvalidStatus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing document", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("FROM documents WHERE document_id = \\$1 FOR UPDATE").
			WithArgs(99).
			WillReturnRows(sqlmock.NewRows(documentTestColumns))
		mock.ExpectRollback()

		_, err := service.applyStatusUpdate(context.Background(), 99, &models.UpdateStatusRequest{Status: "Approved"})
		assert.ErrorIs(t, err, ErrDocumentNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("completion settles the distributor payout atomically", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("FROM documents WHERE document_id = \\$1 FOR UPDATE").
			WithArgs(12).
			WillReturnRows(documentRow("Received", 9))

		mock.ExpectQuery("FROM prices WHERE category_id = \\$1 AND subcategory_id = \\$2").
			WithArgs(1, 2).
			WillReturnRows(sqlmock.NewRows([]string{"id", "category_id", "subcategory_id", "amount", "distributable_amount", "created_at"}).
				AddRow(4, 1, 2, "500.00", "150.00", time.Now()))

		mock.ExpectExec("INSERT INTO wallets").
			WithArgs(9, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		// Admin wallet (user 5) locks before the distributor's (user 9).
		mock.ExpectQuery("FROM wallets WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(5).
			WillReturnRows(walletRows(1, 5, "1000.00", "5000.00", 10))
		mock.ExpectQuery("FROM wallets WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(9).
			WillReturnRows(walletRows(2, 9, "200.00", "200.00", 1))

		mock.ExpectExec("UPDATE wallets").
			WithArgs(decimal.RequireFromString("850.00"), decimal.RequireFromString("5000.00"), sqlmock.AnyArg(), 1, 10).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE wallets").
			WithArgs(decimal.RequireFromString("350.00"), decimal.RequireFromString("350.00"), sqlmock.AnyArg(), 2, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("INSERT INTO wallet_transactions").
			WithArgs(1, "settle-APP-001-debit", "DEBIT", decimal.RequireFromString("150.00"), "SUCCESS", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO wallet_transactions").
			WithArgs(2, "settle-APP-001-credit", "CREDIT", decimal.RequireFromString("150.00"), "SUCCESS", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))

		mock.ExpectExec("UPDATE documents SET status = \\$1, status_history = \\$2").
			WithArgs("Completed", sqlmock.AnyArg(), nil, nil, sqlmock.AnyArg(), 12).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		document, err := service.applyStatusUpdate(context.Background(), 12, &models.UpdateStatusRequest{Status: "Completed"})
		assert.NoError(t, err)
		assert.Equal(t, "Completed", document.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("completing twice is a conflict", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("FROM documents WHERE document_id = \\$1 FOR UPDATE").
			WithArgs(12).
			WillReturnRows(documentRow("Completed", 9))
		mock.ExpectRollback()

		_, err := service.applyStatusUpdate(context.Background(), 12, &models.UpdateStatusRequest{Status: "Completed"})
		assert.ErrorIs(t, err, ErrAlreadyCompleted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("completion without a distributor", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("FROM documents WHERE document_id = \\$1 FOR UPDATE").
			WithArgs(12).
			WillReturnRows(documentRow("Received", nil))
		mock.ExpectRollback()

		_, err := service.applyStatusUpdate(context.Background(), 12, &models.UpdateStatusRequest{Status: "Completed"})
		assert.ErrorIs(t, err, ErrNoDistributor)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("completion without a price entry", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("FROM documents WHERE document_id = \\$1 FOR UPDATE").
			WithArgs(12).
			WillReturnRows(documentRow("Received", 9))
		mock.ExpectQuery("FROM prices WHERE category_id = \\$1 AND subcategory_id = \\$2").
			WithArgs(1, 2).
			WillReturnRows(sqlmock.NewRows([]string{"id", "category_id", "subcategory_id", "amount", "distributable_amount", "created_at"}))
		mock.ExpectRollback()

		_, err := service.applyStatusUpdate(context.Background(), 12, &models.UpdateStatusRequest{Status: "Completed"})
		assert.ErrorIs(t, err, ErrPriceNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient admin balance rolls the whole transition back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("FROM documents WHERE document_id = \\$1 FOR UPDATE").
			WithArgs(12).
			WillReturnRows(documentRow("Received", 9))
		mock.ExpectQuery("FROM prices WHERE category_id = \\$1 AND subcategory_id = \\$2").
			WithArgs(1, 2).
			WillReturnRows(sqlmock.NewRows([]string{"id", "category_id", "subcategory_id", "amount", "distributable_amount", "created_at"}).
				AddRow(4, 1, 2, "500.00", "150.00", time.Now()))
		mock.ExpectExec("INSERT INTO wallets").
			WithArgs(9, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM wallets WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(5).
			WillReturnRows(walletRows(1, 5, "20.00", "5000.00", 10))
		mock.ExpectQuery("FROM wallets WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(9).
			WillReturnRows(walletRows(2, 9, "200.00", "200.00", 1))
		mock.ExpectRollback()

		_, err := service.applyStatusUpdate(context.Background(), 12, &models.UpdateStatusRequest{Status: "Completed"})
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDocumentService_UpdateStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newTestDocumentService(db, nil)

	router := chi.NewRouter()
	router.Put("/documents/update-status/{documentId}", service.UpdateStatus)

	t.Run("invalid document id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/documents/update-status/abc", strings.NewReader(`{"status":"Approved"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown status is rejected before touching the database", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/documents/update-status/12", strings.NewReader(`{"status":"Archived"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejection without reason maps to 400", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("FROM documents WHERE document_id = \\$1 FOR UPDATE").
			WithArgs(12).
			WillReturnRows(documentRow("Pending", nil))
		mock.ExpectRollback()

		req := httptest.NewRequest(http.MethodPut, "/documents/update-status/12", strings.NewReader(`{"status":"Rejected"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var body ErrorResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, ErrRejectionReasonRequired.Error(), body.Error)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already completed maps to 409", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("FROM documents WHERE document_id = \\$1 FOR UPDATE").
			WithArgs(12).
			WillReturnRows(documentRow("Completed", 9))
		mock.ExpectRollback()

		req := httptest.NewRequest(http.MethodPut, "/documents/update-status/12", strings.NewReader(`{"status":"Completed"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDocumentService_GetStatusHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	historyJSON := `[{"status":"Pending","updated_at":"2026-01-01T10:00:00Z"},{"status":"Approved","updated_at":"2026-01-02T09:30:00Z"}]`

	t.Run("cache miss reads the database and fills the cache", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := newTestDocumentService(db, redisClient)

		router := chi.NewRouter()
		router.Get("/documents/history/{documentId}", service.GetStatusHistory)

		redisMock.ExpectGet("dochist:12").RedisNil()
		mock.ExpectQuery("SELECT status_history FROM documents WHERE document_id = \\$1").
			WithArgs(12).
			WillReturnRows(sqlmock.NewRows([]string{"status_history"}).AddRow(historyJSON))

		var history models.StatusHistory
		assert.NoError(t, json.Unmarshal([]byte(historyJSON), &history))
		cached, _ := json.Marshal(history)
		redisMock.ExpectSet("dochist:12", cached, time.Minute).SetVal("OK")

		req := httptest.NewRequest(http.MethodGet, "/documents/history/12", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			StatusHistory models.StatusHistory `json:"status_history"`
		}
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Len(t, body.StatusHistory, 2)
		assert.Equal(t, "Approved", body.StatusHistory[1].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("cache hit skips the database", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := newTestDocumentService(db, redisClient)

		router := chi.NewRouter()
		router.Get("/documents/history/{documentId}", service.GetStatusHistory)

		redisMock.ExpectGet("dochist:12").SetVal(historyJSON)

		req := httptest.NewRequest(http.MethodGet, "/documents/history/12", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("missing document maps to 404", func(t *testing.T) {
		service := newTestDocumentService(db, nil)

		router := chi.NewRouter()
		router.Get("/documents/history/{documentId}", service.GetStatusHistory)

		mock.ExpectQuery("SELECT status_history FROM documents WHERE document_id = \\$1").
			WithArgs(77).
			WillReturnRows(sqlmock.NewRows([]string{"status_history"}))

		req := httptest.NewRequest(http.MethodGet, "/documents/history/77", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDocumentService_AssignDistributor(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newTestDocumentService(db, nil)

	router := chi.NewRouter()
	router.Put("/documents/assign-distributor/{documentId}", service.AssignDistributor)

	t.Run("assigns the distributor", func(t *testing.T) {
		mock.ExpectExec("UPDATE documents SET distributor_id = \\$1 WHERE document_id = \\$2").
			WithArgs(9, 12).
			WillReturnResult(sqlmock.NewResult(0, 1))

		req := httptest.NewRequest(http.MethodPut, "/documents/assign-distributor/12", strings.NewReader(`{"distributorId":9}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing document maps to 404", func(t *testing.T) {
		mock.ExpectExec("UPDATE documents SET distributor_id = \\$1 WHERE document_id = \\$2").
			WithArgs(9, 99).
			WillReturnResult(sqlmock.NewResult(0, 0))

		req := httptest.NewRequest(http.MethodPut, "/documents/assign-distributor/99", strings.NewReader(`{"distributorId":9}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
