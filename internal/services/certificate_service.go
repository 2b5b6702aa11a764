package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/viper"
)

// CertificateService issues one-time QR verification tokens for
// completed applications. The token resolves to the application id and
// expires after 24 hours or on first use.
type CertificateService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewCertificateService(db *sql.DB, redisClient *redis.Client) *CertificateService {
	return &CertificateService{
		db:    db,
		redis: redisClient,
	}
}

const certificateTokenTTL = 24 * time.Hour

// Tokens live in Redis only. When Redis is down the service degrades
// to unavailable instead of dereferencing a nil client.
var errTokenStoreUnavailable = errors.New("verification token store unavailable")

// VerificationResult is what a scanned certificate QR resolves to.
type VerificationResult struct {
	ApplicationID string `json:"application_id"`
	Status        string `json:"status"`
	ReceiptURL    string `json:"receipt_url,omitempty"`
}

// GenerateQR issues a verification token for an application and
// renders it as a QR PNG pointing at the public verify endpoint.
func (s *CertificateService) GenerateQR(ctx context.Context, applicationID string) (string, string, error) {
	if s.redis == nil {
		return "", "", errTokenStoreUnavailable
	}

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM documents WHERE application_id = $1)`, applicationID).Scan(&exists)
	if err != nil {
		return "", "", err
	}
	if !exists {
		return "", "", ErrDocumentNotFound
	}

	token := generateToken()

	key := fmt.Sprintf("certverify:%s", token)
	if err := s.redis.Set(ctx, key, applicationID, certificateTokenTTL).Err(); err != nil {
		return "", "", err
	}

	verifyURL := fmt.Sprintf("%s/api/v1/certificates/verify/%s", viper.GetString("server.public_url"), token)

	qr, err := qrcode.New(verifyURL, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return token, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Verify resolves a token to its application. Tokens are single use.
func (s *CertificateService) Verify(ctx context.Context, token string) (*VerificationResult, error) {
	if s.redis == nil {
		return nil, errTokenStoreUnavailable
	}

	key := fmt.Sprintf("certverify:%s", token)

	applicationID, err := s.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}

	var result VerificationResult
	var receiptURL sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT application_id, status, receipt_url FROM documents WHERE application_id = $1`, applicationID).
		Scan(&result.ApplicationID, &result.Status, &receiptURL)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	result.ReceiptURL = receiptURL.String

	s.redis.Del(ctx, key)

	return &result, nil
}

func generateToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(b)
}
