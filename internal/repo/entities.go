package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
)

// CreateCustomer inserts a customer, generating an id when empty.
func CreateCustomer(ctx context.Context, db *gorm.DB, c *domain.Customer) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return translateCreate(db.WithContext(ctx).Create(c).Error)
}

// GetCustomer fetches a customer by local id.
func GetCustomer(ctx context.Context, db *gorm.DB, id string) (*domain.Customer, error) {
	var c domain.Customer
	if err := first(ctx, db, &c, "id = ?", id); err != nil {
		return nil, err
	}
	return &c, nil
}

// SetCustomerGatewayID links a local customer to a gateway customer id.
// Linking to the id it already carries is a no-op.
func SetCustomerGatewayID(ctx context.Context, db *gorm.DB, customerID, gatewayID string) error {
	res := db.WithContext(ctx).Model(&domain.Customer{}).
		Where("id = ?", customerID).
		Update("gateway_customer_id", gatewayID)
	if res.Error != nil {
		return translateCreate(res.Error)
	}
	if res.RowsAffected == 0 {
		// sqlite and postgres report matched rows; mysql reports changed
		// rows, so confirm the customer exists before failing.
		if _, err := GetCustomer(ctx, db, customerID); err != nil {
			return err
		}
	}
	return nil
}

// DuplicateEmailGroup lists local customers sharing one email address.
type DuplicateEmailGroup struct {
	Email       string
	CustomerIDs []string
}

// FindDuplicateEmails returns every non-empty email used by more than one
// customer, with the ids of those customers ordered by creation. Customers
// folded away by a merge are not counted.
func FindDuplicateEmails(ctx context.Context, db *gorm.DB) ([]DuplicateEmailGroup, error) {
	var emails []string
	err := db.WithContext(ctx).Model(&domain.Customer{}).
		Where("email <> '' AND merged_into IS NULL").
		Group("email").
		Having("COUNT(*) > 1").
		Order("email").
		Pluck("email", &emails).Error
	if err != nil {
		return nil, err
	}
	out := make([]DuplicateEmailGroup, 0, len(emails))
	for _, e := range emails {
		var ids []string
		if err := db.WithContext(ctx).Model(&domain.Customer{}).
			Where("email = ? AND merged_into IS NULL", e).
			Order("created_at ASC").
			Pluck("id", &ids).Error; err != nil {
			return nil, err
		}
		out = append(out, DuplicateEmailGroup{Email: e, CustomerIDs: ids})
	}
	return out, nil
}

// CreatePayment inserts a payment, generating an id when empty.
func CreatePayment(ctx context.Context, db *gorm.DB, p *domain.Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return translateCreate(db.WithContext(ctx).Create(p).Error)
}

// GetPaymentByGatewayID fetches a payment by the gateway's payment id.
func GetPaymentByGatewayID(ctx context.Context, db *gorm.DB, gatewayID string) (*domain.Payment, error) {
	var p domain.Payment
	if err := first(ctx, db, &p, "gateway_payment_id = ?", gatewayID); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePayment applies a partial update to a payment. The last write wins.
func UpdatePayment(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	return updateByID(ctx, db, &domain.Payment{}, id, fields)
}

// CreateSubscription inserts a subscription, generating an id when empty.
func CreateSubscription(ctx context.Context, db *gorm.DB, s *domain.Subscription) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return translateCreate(db.WithContext(ctx).Create(s).Error)
}

// GetSubscriptionByGatewayID fetches a subscription by the gateway's id.
func GetSubscriptionByGatewayID(ctx context.Context, db *gorm.DB, gatewayID string) (*domain.Subscription, error) {
	var s domain.Subscription
	if err := first(ctx, db, &s, "gateway_subscription_id = ?", gatewayID); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateSubscription applies a partial update to a subscription.
func UpdateSubscription(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	return updateByID(ctx, db, &domain.Subscription{}, id, fields)
}

func first(ctx context.Context, db *gorm.DB, dst any, query string, args ...any) error {
	err := db.WithContext(ctx).Where(query, args...).First(dst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func updateByID(ctx context.Context, db *gorm.DB, model any, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return db.WithContext(ctx).Model(model).Where("id = ?", id).Updates(fields).Error
}

// GetCustomerByGatewayID fetches the customer linked to a gateway customer id.
func GetCustomerByGatewayID(ctx context.Context, db *gorm.DB, gatewayID string) (*domain.Customer, error) {
	var c domain.Customer
	if err := first(ctx, db, &c, "gateway_customer_id = ?", gatewayID); err != nil {
		return nil, err
	}
	return &c, nil
}

// ClearCustomerGatewayID unlinks a customer from its gateway id.
func ClearCustomerGatewayID(ctx context.Context, db *gorm.DB, customerID string) error {
	return db.WithContext(ctx).Model(&domain.Customer{}).
		Where("id = ?", customerID).
		Update("gateway_customer_id", nil).Error
}

// MarkCustomerMerged records that customerID was folded into survivorID.
func MarkCustomerMerged(ctx context.Context, db *gorm.DB, customerID, survivorID string) error {
	return db.WithContext(ctx).Model(&domain.Customer{}).
		Where("id = ?", customerID).
		Update("merged_into", survivorID).Error
}

// ReassignCustomer moves every payment and subscription owned by from to to.
func ReassignCustomer(ctx context.Context, db *gorm.DB, from, to string) error {
	if err := db.WithContext(ctx).Model(&domain.Payment{}).
		Where("customer_id = ?", from).
		Update("customer_id", to).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Model(&domain.Subscription{}).
		Where("customer_id = ?", from).
		Update("customer_id", to).Error
}
