package model

type Role string

const (
	RoleBuyer  Role = "BUYER"
	RoleSeller Role = "SELLER"
	RoleAdmin  Role = "ADMIN"
)

type ProductType string

const (
	ProductTypeGiftCard  ProductType = "GIFT_CARD"
	ProductTypeStreaming ProductType = "STREAMING"
	ProductTypeTopUp     ProductType = "TOP_UP"
)

// FulfillmentSource tells the engine where units come from.
type FulfillmentSource string

const (
	SourceStock    FulfillmentSource = "STOCK"
	SourceProvider FulfillmentSource = "PROVIDER"
)

type OrderStatus string

const (
	OrderStatusPending     OrderStatus = "PENDING"
	OrderStatusProcessing  OrderStatus = "PROCESSING"
	OrderStatusCompleted   OrderStatus = "COMPLETED"
	OrderStatusCancelled   OrderStatus = "CANCELLED"
	OrderStatusRefunded    OrderStatus = "REFUNDED"
	OrderStatusUnderReview OrderStatus = "UNDER_REVIEW"
)

// Terminal reports whether no fulfillment may happen any more.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
	PaymentStatusExpired   PaymentStatus = "EXPIRED"
)

type PaymentMethod string

const (
	MethodCard    PaymentMethod = "card"
	MethodQR      PaymentMethod = "qr"
	MethodCrypto  PaymentMethod = "crypto"
	MethodPeer    PaymentMethod = "peer"
	MethodDeposit PaymentMethod = "deposit"
	MethodWallet  PaymentMethod = "wallet"
)

type CodeStatus string

const (
	CodeStatusAvailable CodeStatus = "AVAILABLE"
	CodeStatusSold      CodeStatus = "SOLD"
	CodeStatusReserved  CodeStatus = "RESERVED"
	CodeStatusExpired   CodeStatus = "EXPIRED"
)

type ProfileStatus string

const (
	ProfileStatusActive  ProfileStatus = "ACTIVE"
	ProfileStatusExpired ProfileStatus = "EXPIRED"
)

type WalletTxType string

const (
	WalletTxCredit WalletTxType = "CREDIT"
	WalletTxDebit  WalletTxType = "DEBIT"
)

type LedgerEntryType string

const (
	LedgerCommission    LedgerEntryType = "COMMISSION"
	LedgerSellerEarning LedgerEntryType = "SELLER_EARNING"
)

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "PENDING"
	RefundStatusApproved  RefundStatus = "APPROVED"
	RefundStatusRejected  RefundStatus = "REJECTED"
	RefundStatusProcessed RefundStatus = "PROCESSED"
)

type WithdrawalStatus string

const (
	WithdrawalStatusPending  WithdrawalStatus = "PENDING"
	WithdrawalStatusApproved WithdrawalStatus = "APPROVED"
	WithdrawalStatusRejected WithdrawalStatus = "REJECTED"
)

type NotificationType string

const (
	NotifyOrderCompleted NotificationType = "ORDER_COMPLETED"
	NotifyOrderHeld      NotificationType = "ORDER_HELD"
	NotifyOrderScheduled NotificationType = "ORDER_SCHEDULED"
	NotifyNewSale        NotificationType = "NEW_SALE"
	NotifyRefund         NotificationType = "REFUND"
	NotifyWithdrawal     NotificationType = "WITHDRAWAL"
)
