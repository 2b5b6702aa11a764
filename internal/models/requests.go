package models

// UpdateStatusRequest is the body of PUT /documents/update-status/{documentId}
type UpdateStatusRequest struct {
	Status                string   `json:"status" validate:"required,oneof=Pending Approved Rejected Uploaded Resubmit Sent Received Completed"`
	RejectionReason       string   `json:"rejectionReason,omitempty" validate:"max=1000"`
	SelectedDocumentNames []string `json:"selectedDocumentNames,omitempty" validate:"omitempty,max=50,dive,max=255"`
}

// AssignDistributorRequest sets the distributor handling an application
type AssignDistributorRequest struct {
	DistributorID int `json:"distributorId" validate:"required,gt=0"`
}

// TopupRequest starts a wallet top-up through the payment gateway
type TopupRequest struct {
	Amount string `json:"amount" validate:"required"`
}

// PayoutRequest starts a distributor withdrawal
type PayoutRequest struct {
	Amount string `json:"amount" validate:"required"`
}

// GatewayCallback is the verified payload posted back by the payment
// gateway once an order reaches a terminal state.
type GatewayCallback struct {
	MerchantOrderID string   `json:"merchantOrderId" validate:"required"`
	TransactionID   string   `json:"transactionId" validate:"required"`
	State           string   `json:"state" validate:"required,oneof=SUCCESS FAILED"`
	Amount          string   `json:"amount" validate:"required"`
	Signature       string   `json:"signature" validate:"required"`
	PaymentDetails  Metadata `json:"paymentDetails,omitempty"`
}

// PriceRequest creates or replaces the price entry of a pair
type PriceRequest struct {
	CategoryID          int    `json:"categoryId" validate:"required,gt=0"`
	SubcategoryID       int    `json:"subcategoryId" validate:"required,gt=0"`
	Amount              string `json:"amount" validate:"required"`
	DistributableAmount string `json:"distributableAmount" validate:"required"`
}

// CertificateQRRequest asks for a verification QR for an application
type CertificateQRRequest struct {
	ApplicationID string `json:"applicationId" validate:"required,max=50"`
}
