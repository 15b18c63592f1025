package models

import "time"

type Customer struct {
	ID         int64     `json:"id"`
	TelegramID int64     `json:"telegramId"`
	Username   string    `json:"username,omitempty"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

const (
	NotificationTicketsIssued   = "tickets_issued"
	NotificationReceiptRejected = "receipt_rejected"
	NotificationGnplApproved    = "gnpl_approved"
	NotificationGnplRejected    = "gnpl_rejected"
	NotificationGnplPayment     = "gnpl_payment_decided"
)

type NotificationJob struct {
	ID         int64                  `json:"id"`
	CustomerID int64                  `json:"customerId"`
	TelegramID int64                  `json:"telegramId"`
	Kind       string                 `json:"kind"`
	RunAt      time.Time              `json:"runAt"`
	Payload    map[string]interface{} `json:"payload"`
	Status     string                 `json:"status"`
	Attempts   int                    `json:"attempts"`
	LastError  string                 `json:"lastError,omitempty"`
}
