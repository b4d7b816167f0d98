package pricehistory

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/blockforge/auctionhouse/pkg/response"
)

// Service rolls completed sales into per-material daily statistics.
type Service struct {
	db *gorm.DB
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{db: gormDB}
}

// RecordSale folds one sale into the material's bucket for the given day.
// The read-modify-write runs in a transaction so concurrent sales of the
// same material never overwrite each other's running aggregates.
func (s *Service) RecordSale(material string, price float64, day time.Time) error {
	period := day.Format("2006-01-02")
	return s.db.Transaction(func(tx *gorm.DB) error {
		var rec Record
		err := tx.Where("material = ? AND period_date = ?", material, period).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&Record{
				Material:   material,
				PeriodDate: period,
				AvgPrice:   price,
				MinPrice:   price,
				MaxPrice:   price,
				SaleCount:  1,
			}).Error
		}
		if err != nil {
			return err
		}

		count := rec.SaleCount + 1
		rec.AvgPrice = ((rec.AvgPrice * float64(rec.SaleCount)) + price) / float64(count)
		if price < rec.MinPrice {
			rec.MinPrice = price
		}
		if price > rec.MaxPrice {
			rec.MaxPrice = price
		}
		rec.SaleCount = count
		return tx.Save(&rec).Error
	})
}

// History returns a material's buckets for the trailing window, ascending
// by day.
func (s *Service) History(material string, days int) ([]Record, error) {
	cutoff := time.Now().AddDate(0, 0, -days).Format("2006-01-02")
	var records []Record
	if err := s.db.Where("material = ? AND period_date >= ?", material, cutoff).
		Order("period_date ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Prune drops buckets older than the retention window. Returns rows removed.
func (s *Service) Prune(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Format("2006-01-02")
	result := s.db.Unscoped().Where("period_date < ?", cutoff).Delete(&Record{})
	return result.RowsAffected, result.Error
}

// GinHandlers contains HTTP handlers for price history endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// HistoryHandler handles GET requests for a material's price history
// Query parameter: days (default 30)
func (h *GinHandlers) HistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		material := c.Param("material")
		days := 30
		if d, err := strconv.Atoi(c.DefaultQuery("days", "30")); err == nil && d > 0 {
			days = d
		}

		records, err := h.service.History(material, days)
		if err != nil {
			log.Error().Err(err).Str("material", material).Msg("failed to fetch price history")
		}
		response.Handle(c, records, err)
	}
}
