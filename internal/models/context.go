package models

import "time"

// Payment method types.
const (
	MethodCard      = "card"
	MethodWallet    = "wallet"
	MethodBankDebit = "bank_debit"
)

// TransactionContext carries everything rule conditions and account
// restrictions can test about a transaction. It is built per request and
// never persisted.
type TransactionContext struct {
	Amount         float64         `json:"amount"`
	Currency       string          `json:"currency"`
	Timestamp      time.Time       `json:"timestamp"`
	TransactionRef string          `json:"transaction_ref"`
	Geography      Geography       `json:"geography"`
	Customer       CustomerProfile `json:"customer"`
	Product        ProductInfo     `json:"product"`
	Method         PaymentMethod   `json:"payment_method"`
}

type Geography struct {
	Country string `json:"country"`
	Region  string `json:"region"`
}

type CustomerProfile struct {
	Type          string  `json:"type"`
	TenureDays    int     `json:"tenure_days"`
	LifetimeValue float64 `json:"lifetime_value"`
	RiskTier      string  `json:"risk_tier"`
}

type ProductInfo struct {
	SKU          string `json:"sku"`
	Category     string `json:"category"`
	Subscription bool   `json:"subscription"`
	Trial        bool   `json:"trial"`
}

type PaymentMethod struct {
	Brand  string `json:"brand"`
	Type   string `json:"type"`
	BIN    string `json:"bin"`
	Wallet string `json:"wallet"`
}
