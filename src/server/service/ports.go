package service

import (
	"context"

	"github.com/apimgr/pharmacy/src/email"
	"github.com/apimgr/pharmacy/src/server/model"
)

// ProductSource supplies the catalog slices the scanner inspects.
// The default implementation is models.ProductModel.
type ProductSource interface {
	ListInStock(ctx context.Context) ([]models.Product, error)
	ListOutOfStock(ctx context.Context) ([]models.Product, error)
	ListExpiringWithin(ctx context.Context, days int) ([]models.Product, error)
}

// UserSource resolves notification recipients.
// The default implementation is models.UserModel.
type UserSource interface {
	// PrimaryNotificationUser picks the single user who receives scanner
	// output, preferring admin > manager > pharmacist. nil, nil when none.
	PrimaryNotificationUser(ctx context.Context) (*models.User, error)
	// Email returns the address and first name for a user
	Email(ctx context.Context, userID int) (string, string, error)
}

// EmailSender is the pluggable outbound mail transport.
// The default implementation is email.Service (SMTP).
type EmailSender interface {
	Ready() bool
	Send(msg email.Message) error
}
