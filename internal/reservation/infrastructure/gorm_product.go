package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stockhold/internal/reservation/domain"
)

// ProductModel maps the catalog's products table. The catalog owns the
// schema; this core only reads it.
type ProductModel struct {
	ID                            string `gorm:"primaryKey;column:id"`
	Stock                         int64  `gorm:"column:stock"`
	ReservationsExpireAfterSecond int64  `gorm:"column:reservations_expire_after_seconds"`
}

func (ProductModel) TableName() string { return "products" }

func toDomainProduct(m *ProductModel) *domain.Product {
	return &domain.Product{
		ID:                            m.ID,
		Stock:                         m.Stock,
		ReservationsExpireAfterSecond: m.ReservationsExpireAfterSecond,
	}
}

// OpenMySQL connects GORM to the catalog database.
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	return db, nil
}

// GormProductStore is the relational boundary to the product catalog.
type GormProductStore struct {
	db *gorm.DB
}

func NewGormProductStore(db *gorm.DB) *GormProductStore {
	return &GormProductStore{db: db}
}

func (s *GormProductStore) Find(ctx context.Context, id string) (*domain.Product, error) {
	var model ProductModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find product")
	}
	return toDomainProduct(&model), nil
}

func (s *GormProductStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ProductModel{}).Count(&count).Error; err != nil {
		return 0, errors.Wrap(err, "count products")
	}
	return count, nil
}

func (s *GormProductStore) PageIDs(ctx context.Context, offset, limit int) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&ProductModel{}).
		Order("id").
		Offset(offset).
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "page product ids")
	}
	return ids, nil
}
