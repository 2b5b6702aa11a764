package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/certhub/backend/internal/models"
)

// PriceService maintains the (category, subcategory) -> amount table.
// The transition engine only reads it; the CRUD surface below is for
// back-office maintenance.
type PriceService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewPriceService(db *sql.DB) *PriceService {
	return &PriceService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

const priceColumns = `id, category_id, subcategory_id, amount, distributable_amount, created_at`

// FindByCategorySubcategoryTx resolves the price entry of a pair inside
// the caller's transaction.
func (s *PriceService) FindByCategorySubcategoryTx(tx *sql.Tx, categoryID, subcategoryID int) (*models.Price, error) {
	row := tx.QueryRow(`
		SELECT `+priceColumns+`
		FROM prices
		WHERE category_id = $1 AND subcategory_id = $2`, categoryID, subcategoryID)
	return scanPrice(row)
}

func scanPrice(row rowScanner) (*models.Price, error) {
	var p models.Price
	err := row.Scan(&p.ID, &p.CategoryID, &p.SubcategoryID, &p.Amount, &p.DistributableAmount, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPriceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertPrice creates or replaces the price entry of a pair
// @Summary Upsert price
// @Description Create or replace the price entry for a category/subcategory pair
// @Tags prices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.PriceRequest true "Price entry"
// @Success 200 {object} object{message=string}
// @Failure 400 {object} ErrorResponse
// @Router /prices [post]
func (s *PriceService) UpsertPrice(w http.ResponseWriter, r *http.Request) {
	var req models.PriceRequest
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
	distributable, err := parseAmount(req.DistributableAmount)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	_, err = s.db.ExecContext(r.Context(), `
		INSERT INTO prices (category_id, subcategory_id, amount, distributable_amount, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (category_id, subcategory_id)
		DO UPDATE SET amount = EXCLUDED.amount, distributable_amount = EXCLUDED.distributable_amount`,
		req.CategoryID, req.SubcategoryID, amount, distributable)
	if err != nil {
		log.Printf("[PRICE] Failed to upsert price for pair (%d, %d): %v", req.CategoryID, req.SubcategoryID, err)
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"message": "Price saved successfully"})
}

// ListPrices lists all price entries
// @Summary List prices
// @Description Retrieve all price entries
// @Tags prices
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{prices=[]models.Price,count=int}
// @Router /prices [get]
func (s *PriceService) ListPrices(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(), `SELECT `+priceColumns+` FROM prices ORDER BY category_id, subcategory_id`)
	if err != nil {
		log.Printf("[PRICE] Failed to fetch prices: %v", err)
		SendServiceError(w, err)
		return
	}
	defer rows.Close()

	prices := []models.Price{}
	for rows.Next() {
		price, err := scanPrice(rows)
		if err != nil {
			log.Printf("[PRICE] Failed to scan price row: %v", err)
			SendServiceError(w, err)
			return
		}
		prices = append(prices, *price)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"prices": prices,
		"count":  len(prices),
	})
}

// UpdatePrice replaces the amounts of an existing price entry
// @Summary Update price
// @Description Update the amounts of a price entry by id
// @Tags prices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Price ID"
// @Param request body models.PriceRequest true "Price entry"
// @Success 200 {object} object{message=string}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /prices/{id} [put]
func (s *PriceService) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	priceID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || priceID <= 0 {
		SendErrorResponse(w, "Invalid price id", http.StatusBadRequest, nil)
		return
	}

	var req models.PriceRequest
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
	distributable, err := parseAmount(req.DistributableAmount)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	result, err := s.db.ExecContext(r.Context(), `
		UPDATE prices
		SET category_id = $1, subcategory_id = $2, amount = $3, distributable_amount = $4
		WHERE id = $5`,
		req.CategoryID, req.SubcategoryID, amount, distributable, priceID)
	if err != nil {
		log.Printf("[PRICE] Failed to update price %d: %v", priceID, err)
		SendServiceError(w, err)
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		SendServiceError(w, ErrPriceNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"message": "Price updated successfully"})
}

// DeletePrice removes a price entry
// @Summary Delete price
// @Description Delete a price entry by id
// @Tags prices
// @Produce json
// @Security BearerAuth
// @Param id path int true "Price ID"
// @Success 200 {object} object{message=string}
// @Failure 404 {object} ErrorResponse
// @Router /prices/{id} [delete]
func (s *PriceService) DeletePrice(w http.ResponseWriter, r *http.Request) {
	priceID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || priceID <= 0 {
		SendErrorResponse(w, "Invalid price id", http.StatusBadRequest, nil)
		return
	}

	result, err := s.db.ExecContext(r.Context(), `DELETE FROM prices WHERE id = $1`, priceID)
	if err != nil {
		log.Printf("[PRICE] Failed to delete price %d: %v", priceID, err)
		SendServiceError(w, err)
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		SendServiceError(w, ErrPriceNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"message": "Price deleted successfully"})
}
