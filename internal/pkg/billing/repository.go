package billing

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tmeissner/inkwell/app/models"
)

// Repository is the persistence surface the billing service needs. A gorm
// implementation is used in production; tests swap in an in-memory stub.
type Repository interface {
	// Subscriptions
	FindSubscriptionByProviderID(provider, providerSubscriptionID string) (*models.BillingSubscription, error)
	SaveSubscription(sub *models.BillingSubscription) error
	ListSubscriptionsByUser(userID uint) ([]models.BillingSubscription, error)
	// SupersedeOtherActive moves every other active subscription of the user
	// to cancelled so at most one active record remains.
	SupersedeOtherActive(userID uint, keepID uint) error

	// Plan mappings
	FindActivePlanMapping(provider, providerPlanRef string) (*models.BillingPlanMapping, error)

	// Billing accounts
	FindAccountByProviderID(provider, providerAccountID string) (*models.BillingAccount, error)
	FindAccountByUser(userID uint, provider string) (*models.BillingAccount, error)
	SaveAccount(acc *models.BillingAccount) error

	// Webhook event ledger
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (created bool, err error)
	MarkWebhookProcessed(eventID uint, processingError string) error

	// User settings (entitlement target)
	GetUserSettings(userID uint) (*models.UserSettings, error)
	SaveUserSettings(settings *models.UserSettings) error
	GetUserByID(userID uint) (*models.User, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindSubscriptionByProviderID(provider, providerSubscriptionID string) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := r.db.Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) SaveSubscription(sub *models.BillingSubscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) ListSubscriptionsByUser(userID uint) ([]models.BillingSubscription, error) {
	var subs []models.BillingSubscription
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&subs).Error
	return subs, err
}

func (r *gormRepository) SupersedeOtherActive(userID uint, keepID uint) error {
	return r.db.Model(&models.BillingSubscription{}).
		Where("user_id = ? AND status = ? AND id <> ?", userID, models.BillingStatusActive, keepID).
		Update("status", models.BillingStatusCancelled).Error
}

func (r *gormRepository) FindActivePlanMapping(provider, providerPlanRef string) (*models.BillingPlanMapping, error) {
	var mapping models.BillingPlanMapping
	err := r.db.Where("provider = ? AND provider_plan_ref = ? AND is_active = ?", provider, providerPlanRef, true).First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}

func (r *gormRepository) FindAccountByProviderID(provider, providerAccountID string) (*models.BillingAccount, error) {
	var acc models.BillingAccount
	err := r.db.Where("provider = ? AND provider_account_id = ?", provider, providerAccountID).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (r *gormRepository) FindAccountByUser(userID uint, provider string) (*models.BillingAccount, error) {
	var acc models.BillingAccount
	err := r.db.Where("user_id = ? AND provider = ?", userID, provider).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (r *gormRepository) SaveAccount(acc *models.BillingAccount) error {
	return r.db.Save(acc).Error
}

// CreateWebhookEventIfNotExists inserts the event unless one with the same
// (provider, provider_event_id) already exists. Returns created=false for the
// duplicate case so the caller can short-circuit redeliveries.
func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) MarkWebhookProcessed(eventID uint, processingError string) error {
	now := time.Now()
	return r.db.Model(&models.BillingWebhookEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"processed_at":     &now,
			"processing_error": processingError,
		}).Error
}

func (r *gormRepository) GetUserSettings(userID uint) (*models.UserSettings, error) {
	return models.GetOrCreateUserSettings(r.db, userID)
}

func (r *gormRepository) SaveUserSettings(settings *models.UserSettings) error {
	return r.db.Save(settings).Error
}

func (r *gormRepository) GetUserByID(userID uint) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
