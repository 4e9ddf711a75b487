package database

import (
	"fmt"
	"log"

	"crash-game/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Connect opens the database for the given driver ("postgres" or "sqlite")
func Connect(driver, dsn string) error {
	var dialector gorm.Dialector
	switch driver {
	case "postgres", "":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}

	var err error
	DB, err = gorm.Open(dialector, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Error),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == "sqlite" {
		// SQLite allows one writer; serialize through a single connection
		sqlDB, err := DB.DB()
		if err != nil {
			return fmt.Errorf("failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	log.Printf("Database connection established successfully (%s)", driver)
	return nil
}

// ModelGroups lists every table by area, in migration order
func ModelGroups() map[string][]interface{} {
	return map[string][]interface{}{
		"core": {
			&models.User{},
			&models.LoginChallenge{},
			&models.AdminUser{},
			&models.AdminLog{},
		},
		"ledger": {
			&models.Account{},
			&models.LedgerEntry{},
			&models.Withdrawal{},
		},
		"game": {
			&models.Round{},
			&models.Bet{},
		},
		"chain": {
			&models.DepositRecord{},
			&models.IndexerCursor{},
		},
		"control": {
			&models.ControlFlag{},
			&models.Incident{},
		},
	}
}

// Migrate runs AutoMigrate for all models on db and stops at the first failure
func Migrate(db *gorm.DB) error {
	for _, group := range []string{"core", "ledger", "game", "chain", "control"} {
		for _, model := range ModelGroups()[group] {
			if err := db.AutoMigrate(model); err != nil {
				return fmt.Errorf("migrate %s %T: %w", group, model, err)
			}
		}
	}
	return nil
}

// AutoMigrate runs automatic migrations for all models
func AutoMigrate() error {
	if err := Migrate(DB); err != nil {
		return err
	}
	log.Println("Database migrations completed successfully")
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}
