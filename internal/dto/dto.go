package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CheckoutRequest struct {
	Items         []*Item `json:"items"`
	PaymentMethod string  `json:"payment_method"`
}

type CheckoutOrder struct {
	OrderID              string          `json:"order_id"`
	SellerID             string          `json:"seller_id"`
	Status               string          `json:"status"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	RiskScore            int             `json:"risk_score"`
	RequiresManualReview bool            `json:"requires_manual_review"`
	DeliveryScheduledAt  *time.Time      `json:"delivery_scheduled_at,omitempty"`
}

// PaymentInstructions tells the buyer how to pay on the chosen rail.
type PaymentInstructions struct {
	MemoCode       string `json:"memo_code,omitempty"`
	ExpectedAmount string `json:"expected_amount,omitempty"`
	Coin           string `json:"coin,omitempty"`
	Network        string `json:"network,omitempty"`
	QROrderID      string `json:"qr_order_id,omitempty"`
}

type CheckoutResponse struct {
	PaymentID     string               `json:"payment_id"`
	PaymentMethod string               `json:"payment_method"`
	PaymentStatus string               `json:"payment_status"`
	Amount        decimal.Decimal      `json:"amount"`
	Currency      string               `json:"currency"`
	ExpiresAt     *time.Time           `json:"expires_at,omitempty"`
	Instructions  *PaymentInstructions `json:"instructions,omitempty"`
	Orders        []*CheckoutOrder     `json:"orders"`
}

type PaymentStatusResponse struct {
	PaymentID string     `json:"payment_id"`
	Status    string     `json:"status"` // pending | completed | expired | failed
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type ProfileAccess struct {
	SlotNumber  int       `json:"slot_number"`
	Credentials string    `json:"credentials"`
	StartsAt    time.Time `json:"starts_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Status      string    `json:"status"`
}

type DeliveredItem struct {
	ItemID    string         `json:"item_id"`
	ProductID string         `json:"product_id"`
	Delivered bool           `json:"delivered"`
	Codes     []string       `json:"codes,omitempty"`
	Profile   *ProfileAccess `json:"profile,omitempty"`
}

type OrderCodesResponse struct {
	OrderID string           `json:"order_id"`
	Status  string           `json:"status"`
	Items   []*DeliveredItem `json:"items"`
}

type RefundRequest struct {
	Reason string `json:"reason"`
}

type AdminConfirmRequest struct {
	Reference string `json:"reference"`
}

type AddCodesRequest struct {
	Codes []string `json:"codes"`
}

type AddCodesResponse struct {
	ProductID string `json:"product_id"`
	Added     int    `json:"added"`
	Available int64  `json:"available"`
}

type UpdateSettingsRequest struct {
	HighValueThreshold    decimal.Decimal `json:"high_value_threshold"`
	ManualReviewThreshold decimal.Decimal `json:"manual_review_threshold"`
	DeliveryDelayMinutes  int             `json:"delivery_delay_minutes"`
	CommissionRate        decimal.Decimal `json:"commission_rate"`
	QRWindowMinutes       int             `json:"qr_window_minutes"`
	DepositWindowMinutes  int             `json:"deposit_window_minutes"`
}

type WithdrawalRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination"`
}

type WalletResponse struct {
	Balance      decimal.Decimal      `json:"balance"`
	Currency     string               `json:"currency"`
	Transactions []*WalletTransaction `json:"transactions"`
}

type WalletTransaction struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Reference     string          `json:"reference"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ProvisioningCallback is what the code provider posts (or queues) when an
// asynchronous provisioning finishes.
type ProvisioningCallback struct {
	Reference string   `json:"reference"`
	Status    string   `json:"status"` // SUCCESS | FAILED
	Codes     []string `json:"codes"`
	Reason    string   `json:"reason,omitempty"`
}

type SweepResponse struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

type ExpireResponse struct {
	Expired         int   `json:"expired"`
	CancelledOrders int64 `json:"cancelled_orders"`
}

type AddStreamingAccountRequest struct {
	Credentials string `json:"credentials"`
	MaxProfiles int    `json:"max_profiles"`
}

type SettingsResponse struct {
	HighValueThreshold    decimal.Decimal `json:"high_value_threshold"`
	ManualReviewThreshold decimal.Decimal `json:"manual_review_threshold"`
	DeliveryDelayMinutes  int             `json:"delivery_delay_minutes"`
	CommissionRate        decimal.Decimal `json:"commission_rate"`
	QRWindowMinutes       int             `json:"qr_window_minutes"`
	DepositWindowMinutes  int             `json:"deposit_window_minutes"`
}
