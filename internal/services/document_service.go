package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"

	"github.com/certhub/backend/internal/config"
	"github.com/certhub/backend/internal/models"
)

// DocumentService owns the application lifecycle. Status transitions
// run in a single database transaction with the document row locked;
// the Completed transition additionally settles the distributor payout
// from the admin wallet inside the same transaction, so a failure at
// any step leaves document and both wallets untouched.
type DocumentService struct {
	db        *sql.DB
	redis     *redis.Client
	wallet    *WalletService
	prices    *PriceService
	notifier  Notifier
	validator *ValidationHelper
	cfg       *config.SettlementConfig
}

func NewDocumentService(db *sql.DB, redisClient *redis.Client, wallet *WalletService, prices *PriceService, notifier Notifier, cfg *config.SettlementConfig) *DocumentService {
	return &DocumentService{
		db:        db,
		redis:     redisClient,
		wallet:    wallet,
		prices:    prices,
		notifier:  notifier,
		validator: NewValidationHelper(),
		cfg:       cfg,
	}
}

const documentColumns = `document_id, user_id, category_id, category_name, subcategory_id, subcategory_name,
		name, email, phone, address, application_id, documents, document_fields, status,
		distributor_id, rejection_reason, selected_document_names, receipt_url, remark,
		status_history, status_updated_at, uploaded_at`

// UpdateStatus transitions a document to a new status
// @Summary Update document status
// @Description Validate the target status payload, transition the document and, on Completed, settle the distributor payout from the admin wallet atomically
// @Tags documents
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param documentId path int true "Document ID"
// @Param request body models.UpdateStatusRequest true "Target status and payload"
// @Success 200 {object} object{message=string,document=models.Document}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /documents/update-status/{documentId} [put]
func (s *DocumentService) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	documentID, err := strconv.Atoi(chi.URLParam(r, "documentId"))
	if err != nil || documentID <= 0 {
		SendErrorResponse(w, "Invalid document id", http.StatusBadRequest, nil)
		return
	}

	var req models.UpdateStatusRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	document, err := s.applyStatusUpdate(r.Context(), documentID, &req)
	if err != nil {
		log.Printf("[DOCUMENT] Status update to %s failed for document %d: %v", req.Status, documentID, err)
		SendServiceError(w, err)
		return
	}

	log.Printf("[DOCUMENT] Document %d transitioned to %s", documentID, req.Status)

	// Post-commit side effects. Neither may undo the transition.
	s.invalidateHistoryCache(r.Context(), documentID)
	go s.notifyStatusChange(document, req.RejectionReason)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message":  "Status updated successfully",
		"document": document,
	})
}

// applyStatusUpdate runs the whole transition in one transaction. The
// document row is locked first; on Completed the wallet rows follow in
// ascending user id order inside TransferTx.
func (s *DocumentService) applyStatusUpdate(ctx context.Context, documentID int, req *models.UpdateStatusRequest) (*models.Document, error) {
	// The HTTP layer validates the status too, but the engine does not
	// rely on its callers for this invariant.
	if !models.ValidStatus(req.Status) {
		return nil, ErrInvalidStatus
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	document, err := s.lockDocumentTx(tx, documentID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	document.StatusHistory = document.StatusHistory.Append(req.Status, now)

	switch req.Status {
	case models.StatusRejected:
		reason := strings.TrimSpace(req.RejectionReason)
		if reason == "" {
			return nil, ErrRejectionReasonRequired
		}
		document.RejectionReason = &reason
		if req.SelectedDocumentNames != nil {
			document.SelectedDocumentNames = models.StringList(req.SelectedDocumentNames)
		}

	case models.StatusUploaded:
		if req.SelectedDocumentNames != nil {
			document.SelectedDocumentNames = models.StringList(req.SelectedDocumentNames)
		}

	case models.StatusCompleted:
		if err := s.settleCompletionTx(tx, document); err != nil {
			return nil, err
		}
	}

	document.Status = req.Status
	document.StatusUpdatedAt = now

	if err := s.updateDocumentTx(tx, document); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return document, nil
}

// settleCompletionTx transfers the distributable amount of the
// document's price entry from the admin wallet to the distributor
// wallet. The correlation id is derived from the application id, so a
// second settlement of the same document trips the unique constraint
// even if it slipped past the row lock.
func (s *DocumentService) settleCompletionTx(tx *sql.Tx, document *models.Document) error {
	if document.Status == models.StatusCompleted {
		return ErrAlreadyCompleted
	}
	if document.DistributorID == nil {
		return ErrNoDistributor
	}

	price, err := s.prices.FindByCategorySubcategoryTx(tx, document.CategoryID, document.SubcategoryID)
	if err != nil {
		return err
	}

	amount := price.DistributableAmount
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	correlationID := fmt.Sprintf("settle-%s", document.ApplicationID)
	if err := s.wallet.TransferTx(tx, s.cfg.AdminUserID, *document.DistributorID, correlationID, amount); err != nil {
		return err
	}

	log.Printf("[DOCUMENT] Settled %s for document %d: admin %d -> distributor %d",
		amount.StringFixed(2), document.DocumentID, s.cfg.AdminUserID, *document.DistributorID)
	return nil
}

func (s *DocumentService) lockDocumentTx(tx *sql.Tx, documentID int) (*models.Document, error) {
	row := tx.QueryRow(`
		SELECT `+documentColumns+`
		FROM documents
		WHERE document_id = $1
		FOR UPDATE`, documentID)

	document, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return document, nil
}

func (s *DocumentService) updateDocumentTx(tx *sql.Tx, d *models.Document) error {
	_, err := tx.Exec(`
		UPDATE documents
		SET status = $1, status_history = $2, rejection_reason = $3,
		    selected_document_names = $4, status_updated_at = $5
		WHERE document_id = $6`,
		d.Status, d.StatusHistory, d.RejectionReason, d.SelectedDocumentNames, d.StatusUpdatedAt, d.DocumentID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var d models.Document
	err := row.Scan(
		&d.DocumentID, &d.UserID, &d.CategoryID, &d.CategoryName, &d.SubcategoryID, &d.SubcategoryName,
		&d.Name, &d.Email, &d.Phone, &d.Address, &d.ApplicationID, &d.Files, &d.DocumentFields, &d.Status,
		&d.DistributorID, &d.RejectionReason, &d.SelectedDocumentNames, &d.ReceiptURL, &d.Remark,
		&d.StatusHistory, &d.StatusUpdatedAt, &d.UploadedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *DocumentService) notifyStatusChange(document *models.Document, rejectionReason string) {
	kind, ok := notificationKindForStatus(document.Status)
	if !ok {
		return
	}

	extra := map[string]string{}
	if document.Status == models.StatusRejected {
		extra["reason"] = rejectionReason
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NotifyTimeout)
	defer cancel()

	if err := s.notifier.Send(ctx, kind, document, extra); err != nil {
		log.Printf("[DOCUMENT] Notification %s failed for document %d: %v", kind, document.DocumentID, err)
	}
}

// GetDocument fetches one document
// @Summary Get document
// @Description Retrieve a document by its id
// @Tags documents
// @Produce json
// @Security BearerAuth
// @Param documentId path int true "Document ID"
// @Success 200 {object} models.Document
// @Failure 404 {object} ErrorResponse
// @Router /documents/{documentId} [get]
func (s *DocumentService) GetDocument(w http.ResponseWriter, r *http.Request) {
	documentID, err := strconv.Atoi(chi.URLParam(r, "documentId"))
	if err != nil || documentID <= 0 {
		SendErrorResponse(w, "Invalid document id", http.StatusBadRequest, nil)
		return
	}

	row := s.db.QueryRowContext(r.Context(), `
		SELECT `+documentColumns+`
		FROM documents
		WHERE document_id = $1`, documentID)

	document, err := scanDocument(row)
	if err == sql.ErrNoRows {
		SendServiceError(w, ErrDocumentNotFound)
		return
	}
	if err != nil {
		log.Printf("[DOCUMENT] Failed to fetch document %d: %v", documentID, err)
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(document)
}

// GetStatusHistory returns a document's status audit trail
// @Summary Get status history
// @Description Retrieve the append-only status history of a document, newest last
// @Tags documents
// @Produce json
// @Security BearerAuth
// @Param documentId path int true "Document ID"
// @Success 200 {object} object{message=string,status_history=models.StatusHistory}
// @Failure 404 {object} ErrorResponse
// @Router /documents/history/{documentId} [get]
func (s *DocumentService) GetStatusHistory(w http.ResponseWriter, r *http.Request) {
	documentID, err := strconv.Atoi(chi.URLParam(r, "documentId"))
	if err != nil || documentID <= 0 {
		SendErrorResponse(w, "Invalid document id", http.StatusBadRequest, nil)
		return
	}

	if history, ok := s.cachedHistory(r.Context(), documentID); ok {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"message":        "Status history fetched successfully",
			"status_history": history,
		})
		return
	}

	var history models.StatusHistory
	err = s.db.QueryRowContext(r.Context(),
		`SELECT status_history FROM documents WHERE document_id = $1`, documentID).Scan(&history)
	if err == sql.ErrNoRows {
		SendServiceError(w, ErrDocumentNotFound)
		return
	}
	if err != nil {
		log.Printf("[DOCUMENT] Failed to fetch history for document %d: %v", documentID, err)
		SendServiceError(w, err)
		return
	}

	s.cacheHistory(r.Context(), documentID, history)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message":        "Status history fetched successfully",
		"status_history": history,
	})
}

func historyCacheKey(documentID int) string {
	return fmt.Sprintf("dochist:%d", documentID)
}

func (s *DocumentService) cachedHistory(ctx context.Context, documentID int) (models.StatusHistory, bool) {
	if s.redis == nil {
		return nil, false
	}
	data, err := s.redis.Get(ctx, historyCacheKey(documentID)).Bytes()
	if err != nil {
		return nil, false
	}
	var history models.StatusHistory
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, false
	}
	return history, true
}

func (s *DocumentService) cacheHistory(ctx context.Context, documentID int, history models.StatusHistory) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(history)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, historyCacheKey(documentID), data, s.cfg.HistoryCacheTTL).Err(); err != nil {
		log.Printf("[DOCUMENT] Failed to cache history for document %d: %v", documentID, err)
	}
}

func (s *DocumentService) invalidateHistoryCache(ctx context.Context, documentID int) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, historyCacheKey(documentID)).Err(); err != nil {
		log.Printf("[DOCUMENT] Failed to invalidate history cache for document %d: %v", documentID, err)
	}
}

// ListDocuments lists all documents
// @Summary List documents
// @Description Retrieve all documents
// @Tags documents
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{message=string,documents=[]models.Document}
// @Router /documents/list [get]
func (s *DocumentService) ListDocuments(w http.ResponseWriter, r *http.Request) {
	s.listDocuments(w, r, `SELECT `+documentColumns+` FROM documents ORDER BY uploaded_at DESC`)
}

// RecentDocuments lists the most recent applications
// @Summary Recent documents
// @Description Retrieve the ten most recently submitted applications
// @Tags documents
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{message=string,documents=[]models.Document}
// @Router /documents/recent [get]
func (s *DocumentService) RecentDocuments(w http.ResponseWriter, r *http.Request) {
	s.listDocuments(w, r, `SELECT `+documentColumns+` FROM documents ORDER BY uploaded_at DESC LIMIT 10`)
}

// AssignedDocuments lists documents with a distributor assigned
// @Summary Assigned documents
// @Description Retrieve documents that have a distributor assigned
// @Tags documents
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{message=string,documents=[]models.Document}
// @Router /documents/assigned-list [get]
func (s *DocumentService) AssignedDocuments(w http.ResponseWriter, r *http.Request) {
	s.listDocuments(w, r, `SELECT `+documentColumns+` FROM documents WHERE distributor_id IS NOT NULL ORDER BY uploaded_at DESC`)
}

// UnassignedDocuments lists documents without a distributor
// @Summary Unassigned documents
// @Description Retrieve documents that have no distributor assigned yet
// @Tags documents
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{message=string,documents=[]models.Document}
// @Router /documents/list_nodistributor [get]
func (s *DocumentService) UnassignedDocuments(w http.ResponseWriter, r *http.Request) {
	s.listDocuments(w, r, `SELECT `+documentColumns+` FROM documents WHERE distributor_id IS NULL ORDER BY uploaded_at DESC`)
}

func (s *DocumentService) listDocuments(w http.ResponseWriter, r *http.Request, query string) {
	rows, err := s.db.QueryContext(r.Context(), query)
	if err != nil {
		log.Printf("[DOCUMENT] Failed to fetch documents: %v", err)
		SendServiceError(w, err)
		return
	}
	defer rows.Close()

	documents := []models.Document{}
	for rows.Next() {
		document, err := scanDocument(rows)
		if err != nil {
			log.Printf("[DOCUMENT] Failed to scan document row: %v", err)
			SendServiceError(w, err)
			return
		}
		documents = append(documents, *document)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message":   "Documents fetched successfully",
		"documents": documents,
	})
}

// AssignDistributor assigns a distributor to a document
// @Summary Assign distributor
// @Description Set the distributor responsible for processing a document
// @Tags documents
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param documentId path int true "Document ID"
// @Param request body models.AssignDistributorRequest true "Distributor assignment"
// @Success 200 {object} object{message=string}
// @Failure 404 {object} ErrorResponse
// @Router /documents/assign-distributor/{documentId} [put]
func (s *DocumentService) AssignDistributor(w http.ResponseWriter, r *http.Request) {
	documentID, err := strconv.Atoi(chi.URLParam(r, "documentId"))
	if err != nil || documentID <= 0 {
		SendErrorResponse(w, "Invalid document id", http.StatusBadRequest, nil)
		return
	}

	var req models.AssignDistributorRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := s.db.ExecContext(r.Context(),
		`UPDATE documents SET distributor_id = $1 WHERE document_id = $2`, req.DistributorID, documentID)
	if err != nil {
		log.Printf("[DOCUMENT] Failed to assign distributor for document %d: %v", documentID, err)
		SendServiceError(w, err)
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		SendServiceError(w, ErrDocumentNotFound)
		return
	}

	log.Printf("[DOCUMENT] Distributor %d assigned to document %d", req.DistributorID, documentID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"message": "Distributor assigned successfully"})
}

// GetReceipt returns the receipt URL of an application
// @Summary Get receipt
// @Description Retrieve the receipt URL for an application id
// @Tags documents
// @Produce json
// @Security BearerAuth
// @Param applicationId path string true "Application ID"
// @Success 200 {object} object{receipt_url=string,application_id=string}
// @Failure 404 {object} ErrorResponse
// @Router /documents/receipt/{applicationId} [get]
func (s *DocumentService) GetReceipt(w http.ResponseWriter, r *http.Request) {
	applicationID := strings.TrimSpace(chi.URLParam(r, "applicationId"))
	if applicationID == "" {
		SendErrorResponse(w, "applicationId is required", http.StatusBadRequest, nil)
		return
	}

	var receiptURL sql.NullString
	err := s.db.QueryRowContext(r.Context(),
		`SELECT receipt_url FROM documents WHERE application_id = $1`, applicationID).Scan(&receiptURL)
	if err == sql.ErrNoRows {
		SendServiceError(w, ErrDocumentNotFound)
		return
	}
	if err != nil {
		log.Printf("[DOCUMENT] Failed to fetch receipt for application %s: %v", applicationID, err)
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"receipt_url":    receiptURL.String,
		"application_id": applicationID,
	})
}
