package pricehistory

import (
	"gorm.io/gorm"
)

// Record is one material's running sale aggregates for one day bucket.
// Derived data only: every field is recomputed from sales, never edited.
type Record struct {
	gorm.Model `json:"-"`
	Material   string  `gorm:"index:idx_material_period,unique" json:"material"`
	PeriodDate string  `gorm:"index:idx_material_period,unique" json:"period_date"` // YYYY-MM-DD
	AvgPrice   float64 `json:"avg_price"`
	MinPrice   float64 `json:"min_price"`
	MaxPrice   float64 `json:"max_price"`
	SaleCount  int     `json:"sale_count"`
}
