package economy

import (
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestWallet(t *testing.T) *Wallet {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.AutoMigrate(&Account{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewWallet(db)
}

func TestDepositCreatesAccount(t *testing.T) {
	wallet := newTestWallet(t)

	if got := wallet.GetBalance("steve"); got != 0 {
		t.Errorf("expected zero balance for unknown player, got %.2f", got)
	}
	if !wallet.Deposit("steve", 100) {
		t.Fatal("first deposit failed")
	}
	if !wallet.Deposit("steve", 50) {
		t.Fatal("second deposit failed")
	}
	if got := wallet.GetBalance("steve"); got != 150 {
		t.Errorf("expected balance 150, got %.2f", got)
	}
}

func TestWithdrawGuardsBalance(t *testing.T) {
	wallet := newTestWallet(t)
	wallet.Deposit("steve", 100)

	if !wallet.Withdraw("steve", 60) {
		t.Fatal("withdraw within balance failed")
	}
	if wallet.Withdraw("steve", 60) {
		t.Error("withdraw past zero must be refused")
	}
	if got := wallet.GetBalance("steve"); got != 40 {
		t.Errorf("refused withdraw must not change balance, got %.2f", got)
	}
	if wallet.Withdraw("unknown", 1) {
		t.Error("withdraw from unknown account must be refused")
	}
	if wallet.Withdraw("steve", -5) {
		t.Error("negative withdraw must be refused")
	}
}

func TestHas(t *testing.T) {
	wallet := newTestWallet(t)
	wallet.Deposit("steve", 100)

	if !wallet.Has("steve", 100) {
		t.Error("expected Has to cover the exact balance")
	}
	if wallet.Has("steve", 100.01) {
		t.Error("expected Has to refuse past the balance")
	}
}

func TestEnsureAccount(t *testing.T) {
	wallet := newTestWallet(t)

	if err := wallet.EnsureAccount("steve"); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := wallet.EnsureAccount("steve"); err != nil {
		t.Fatalf("repeat ensure failed: %v", err)
	}
	if got := wallet.GetBalance("steve"); got != 0 {
		t.Errorf("expected zero balance, got %.2f", got)
	}
}

func TestFormatAmount(t *testing.T) {
	cases := map[float64]string{
		0:       "$0.00",
		5:       "$5.00",
		1234.5:  "$1,234.50",
		1000000: "$1,000,000.00",
		999.999: "$1,000.00",
	}
	for amount, want := range cases {
		if got := FormatAmount(amount); got != want {
			t.Errorf("FormatAmount(%v) = %s, want %s", amount, got, want)
		}
	}
}
