package migrations

import (
	"gorm.io/gorm"
)

// AddSnipeExtensions backfills the extension counter on listings created
// before the column existed so the cap check never sees NULL.
func AddSnipeExtensions(db *gorm.DB) error {
	if !db.Migrator().HasTable("listings") {
		return nil
	}

	if !db.Migrator().HasColumn("listings", "snipe_extensions") {
		if err := db.Exec("ALTER TABLE listings ADD COLUMN snipe_extensions integer DEFAULT 0").Error; err != nil {
			return err
		}
	}

	return db.Exec("UPDATE listings SET snipe_extensions = 0 WHERE snipe_extensions IS NULL").Error
}
