package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type User struct {
	ID        string `gorm:"primaryKey;size:64;not null"`
	Email     string `gorm:"size:255;uniqueIndex;not null"`
	Role      Role   `gorm:"size:16;not null"`
	CreatedAt time.Time
}

type Seller struct {
	ID               string          `gorm:"primaryKey;size:64;not null"` // user id
	DisplayName      string          `gorm:"size:128"`
	AvailableBalance decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	PendingBalance   decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	TotalEarnings    decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Product struct {
	ID           string            `gorm:"primaryKey;size:64;not null"` // product sku
	SellerID     string            `gorm:"size:64;index;not null"`
	Name         string            `gorm:"size:255;not null"`
	Type         ProductType       `gorm:"size:32;index;not null"`
	Source       FulfillmentSource `gorm:"size:16;not null;default:STOCK"`
	ProviderSKU  string            `gorm:"size:128"`
	Price        decimal.Decimal   `gorm:"type:decimal(18,2);not null"`
	Currency     string            `gorm:"size:8;not null"`
	DurationDays int               `gorm:"not null;default:0"` // streaming access window
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Order struct {
	ID                   string          `gorm:"primaryKey;size:64;not null"`
	BuyerID              string          `gorm:"size:64;index;not null"`
	SellerID             string          `gorm:"size:64;index;not null"`
	PaymentID            string          `gorm:"size:64;index"`
	PaymentMethod        PaymentMethod   `gorm:"size:16;not null"`
	TotalAmount          decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	Currency             string          `gorm:"size:8;not null"`
	CommissionRate       decimal.Decimal `gorm:"type:decimal(6,4);not null"`
	CommissionAmount     decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	SellerEarnings       decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	PaymentStatus        PaymentStatus   `gorm:"size:16;index;not null"`
	Status               OrderStatus     `gorm:"size:16;index;not null"`
	DeliveryScheduledAt  *time.Time      `gorm:"index"`
	RequiresManualReview bool            `gorm:"not null;default:false"`
	RiskScore            int             `gorm:"not null;default:0"`
	RiskReasons          datatypes.JSONSlice[string]
	FulfilledBy          string `gorm:"size:64"`
	FulfillmentRef       string `gorm:"size:128"`
	CompletedAt          *time.Time
	CreatedAt            time.Time `gorm:"index"`
	UpdatedAt            time.Time

	Items []*OrderItem `gorm:"foreignKey:OrderID"`
}

type OrderItem struct {
	ID           string          `gorm:"primaryKey;size:64;not null"`
	OrderID      string          `gorm:"size:64;index;not null"`
	ProductID    string          `gorm:"size:64;index;not null"`
	ProductType  ProductType     `gorm:"size:32;not null"`
	Quantity     int             `gorm:"not null"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	TotalPrice   decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	IsDelivered  bool            `gorm:"not null;default:false"`
	DeliveredAt  *time.Time
	ProvisionRef *string `gorm:"size:128;uniqueIndex"`
	CreatedAt    time.Time
}

// PaymentDetails is the provider specific blob kept on a payment.
type PaymentDetails struct {
	Provider       string   `json:"provider"`
	OrderIDs       []string `json:"order_ids"`
	MemoCode       string   `json:"memo_code,omitempty"`
	ExpectedAmount string   `json:"expected_amount,omitempty"`
	Coin           string   `json:"coin,omitempty"`
	Network        string   `json:"network,omitempty"`
	QROrderID      string   `json:"qr_order_id,omitempty"`
	CheckoutURL    string   `json:"checkout_url,omitempty"`
}

type Payment struct {
	ID                string          `gorm:"primaryKey;size:64;not null"`
	BuyerID           string          `gorm:"size:64;index;not null"`
	Provider          string          `gorm:"size:32;index;not null"`
	ExternalPaymentID *string         `gorm:"size:128;uniqueIndex"`
	Amount            decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	Currency          string          `gorm:"size:8;not null"`
	Status            PaymentStatus   `gorm:"size:16;index;not null"`
	ExpiresAt         *time.Time      `gorm:"index"`
	ExternalReference string          `gorm:"size:255"`
	ConfirmedAt       *time.Time
	Details           datatypes.JSONType[PaymentDetails]
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Expired reports whether the confirmation window has elapsed at now.
func (p *Payment) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

type GiftCardCode struct {
	ID            string            `gorm:"primaryKey;size:64;not null"`
	ProductID     string            `gorm:"size:64;index:idx_code_product_status;not null"`
	Status        CodeStatus        `gorm:"size:16;index:idx_code_product_status;not null"`
	EncryptedCode string            `gorm:"type:text;not null"`
	Source        FulfillmentSource `gorm:"size:16;not null;default:STOCK"`
	OrderItemID   *string           `gorm:"size:64;index"`
	BuyerID       *string           `gorm:"size:64;index"`
	SoldAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type StreamingAccount struct {
	ID                   string `gorm:"primaryKey;size:64;not null"`
	ProductID            string `gorm:"size:64;index;not null"`
	EncryptedCredentials string `gorm:"type:text;not null"`
	MaxProfiles          int    `gorm:"not null"`
	UsedProfiles         int    `gorm:"not null;default:0"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type StreamingProfile struct {
	ID          string `gorm:"primaryKey;size:64;not null"`
	AccountID   string `gorm:"size:64;index;not null;uniqueIndex:idx_profile_active_slot,priority:1"`
	OrderItemID string `gorm:"size:64;uniqueIndex;not null"`
	BuyerID     string `gorm:"size:64;index;not null"`
	SlotNumber  int    `gorm:"not null"`

	// ActiveSlot mirrors SlotNumber while the profile is ACTIVE and is NULL
	// afterwards, so one account never has two live profiles on a slot.
	ActiveSlot *int          `gorm:"uniqueIndex:idx_profile_active_slot,priority:2"`
	Status     ProfileStatus `gorm:"size:16;not null"`
	StartsAt   time.Time
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Wallet struct {
	UserID    string          `gorm:"primaryKey;size:64;not null"`
	Balance   decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	Currency  string          `gorm:"size:8;not null"`
	Version   int64           `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WalletTransaction rows are append-only.
type WalletTransaction struct {
	ID            string          `gorm:"primaryKey;size:64;not null"`
	UserID        string          `gorm:"size:64;index;not null"`
	Type          WalletTxType    `gorm:"size:8;not null"`
	Amount        decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	Reference     string          `gorm:"size:128;index"`
	Description   string          `gorm:"size:255"`
	CreatedAt     time.Time
}

// LedgerEntry is the platform accounting row; one per (order, type).
type LedgerEntry struct {
	ID        string          `gorm:"primaryKey;size:64;not null"`
	OrderID   string          `gorm:"size:64;uniqueIndex:idx_ledger_order_type;not null"`
	Type      LedgerEntryType `gorm:"size:32;uniqueIndex:idx_ledger_order_type;not null"`
	Account   string          `gorm:"size:64;index;not null"`
	Amount    decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	CreatedAt time.Time
}

type Withdrawal struct {
	ID            string           `gorm:"primaryKey;size:64;not null"`
	SellerID      string           `gorm:"size:64;index;not null"`
	Amount        decimal.Decimal  `gorm:"type:decimal(18,2);not null"`
	Status        WithdrawalStatus `gorm:"size:16;index;not null"`
	BalanceBefore decimal.Decimal  `gorm:"type:decimal(18,2);not null"`
	BalanceAfter  decimal.Decimal  `gorm:"type:decimal(18,2);not null"`
	Destination   string           `gorm:"size:255"`
	ProcessedBy   string           `gorm:"size:64"`
	ProcessedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type RefundRequest struct {
	ID      string          `gorm:"primaryKey;size:64;not null"`
	OrderID string          `gorm:"size:64;index;not null"`
	BuyerID string          `gorm:"size:64;index;not null"`
	Amount  decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	Reason  string          `gorm:"size:512"`
	Status  RefundStatus    `gorm:"size:16;index;not null"`
	// set to the order id while the request is open, NULL once closed
	ActiveOrderID *string `gorm:"size:64;uniqueIndex"`
	ProcessedBy   string  `gorm:"size:64"`
	ProcessedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type WebhookEvent struct {
	Provider    string `gorm:"primaryKey;size:32;not null"`
	EventID     string `gorm:"primaryKey;size:128;not null"`
	EventType   string `gorm:"size:64;index"`
	ProcessedAt time.Time
	CreatedAt   time.Time
}

type Notification struct {
	ID        string           `gorm:"primaryKey;size:64;not null"`
	UserID    string           `gorm:"size:64;index;not null"`
	Type      NotificationType `gorm:"size:32;not null"`
	Title     string           `gorm:"size:255;not null"`
	Message   string           `gorm:"type:text"`
	Link      string           `gorm:"size:255"`
	Read      bool             `gorm:"not null;default:false"`
	CreatedAt time.Time
}

// Setting is the single row of runtime tunables.
type Setting struct {
	ID                    uint            `gorm:"primaryKey"`
	HighValueThreshold    decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	ManualReviewThreshold decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	DeliveryDelayMinutes  int             `gorm:"not null"`
	CommissionRate        decimal.Decimal `gorm:"type:decimal(6,4);not null"`
	QRWindowMinutes       int             `gorm:"not null"`
	DepositWindowMinutes  int             `gorm:"not null"`
	UpdatedBy             string          `gorm:"size:64"`
	UpdatedAt             time.Time
}
