package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/certhub/backend/internal/services"
)

func TestCertificateHandler_GenerateQR(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	t.Run("issues token and image", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		handler := NewCertificateHandler(services.NewCertificateService(db, redisClient))

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("APP-001").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		redisMock.Regexp().ExpectSet(`certverify:.+`, "APP-001", 24*time.Hour).SetVal("OK")

		req := httptest.NewRequest(http.MethodPost, "/certificates/qr", strings.NewReader(`{"applicationId":"APP-001"}`))
		rec := httptest.NewRecorder()
		handler.GenerateQR(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body["token"])
		assert.NotEmpty(t, body["qrImage"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing application id is rejected", func(t *testing.T) {
		redisClient, _ := redismock.NewClientMock()
		handler := NewCertificateHandler(services.NewCertificateService(db, redisClient))

		req := httptest.NewRequest(http.MethodPost, "/certificates/qr", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		handler.GenerateQR(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown application maps to 404", func(t *testing.T) {
		redisClient, _ := redismock.NewClientMock()
		handler := NewCertificateHandler(services.NewCertificateService(db, redisClient))

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("APP-404").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		req := httptest.NewRequest(http.MethodPost, "/certificates/qr", strings.NewReader(`{"applicationId":"APP-404"}`))
		rec := httptest.NewRecorder()
		handler.GenerateQR(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCertificateHandler_Verify(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	t.Run("resolves a live token", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		handler := NewCertificateHandler(services.NewCertificateService(db, redisClient))

		router := chi.NewRouter()
		router.Get("/certificates/verify/{token}", handler.Verify)

		redisMock.ExpectGet("certverify:tok123").SetVal("APP-001")
		mock.ExpectQuery("SELECT application_id, status, receipt_url FROM documents").
			WithArgs("APP-001").
			WillReturnRows(sqlmock.NewRows([]string{"application_id", "status", "receipt_url"}).
				AddRow("APP-001", "Completed", nil))
		redisMock.ExpectDel("certverify:tok123").SetVal(1)

		req := httptest.NewRequest(http.MethodGet, "/certificates/verify/tok123", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var result services.VerificationResult
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, "APP-001", result.ApplicationID)
		assert.Equal(t, "Completed", result.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("dead token maps to 404", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		handler := NewCertificateHandler(services.NewCertificateService(db, redisClient))

		router := chi.NewRouter()
		router.Get("/certificates/verify/{token}", handler.Verify)

		redisMock.ExpectGet("certverify:gone").RedisNil()

		req := httptest.NewRequest(http.MethodGet, "/certificates/verify/gone", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
