package collection

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.AutoMigrate(&Entry{}, &Notification{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

// fakePublisher records publishes and returns a configured receiver count.
type fakePublisher struct {
	receivers int64
	err       error
	published []string
}

func (f *fakePublisher) Publish(playerID, key string, data map[string]string) (int64, error) {
	f.published = append(f.published, playerID+":"+key)
	return f.receivers, f.err
}

func TestEntryClaimedAtMostOnce(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db, nil, true)

	if err := service.AddItem(db, "steve", []byte(`{"material":"ELYTRA"}`), "Purchased"); err != nil {
		t.Fatalf("failed to add entry: %v", err)
	}

	entries, err := service.Collection("steve")
	if err != nil {
		t.Fatalf("failed to fetch collection: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}

	if err := service.RemoveEntry(entries[0].EntryID); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if err := service.RemoveEntry(entries[0].EntryID); !errors.Is(err, ErrEntryGone) {
		t.Errorf("expected ErrEntryGone on second claim, got %v", err)
	}

	entries, _ = service.Collection("steve")
	if len(entries) != 0 {
		t.Errorf("expected empty collection, got %d entries", len(entries))
	}
}

func TestFailedGrantLeavesEntry(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db, nil, true)

	if err := service.AddMoney(db, "steve", 250, "Item sold"); err != nil {
		t.Fatalf("failed to add entry: %v", err)
	}

	// A caller whose grant failed simply never removes; the entry must
	// survive for the next claim attempt.
	entries, err := service.Collection("steve")
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one entry, got %d err=%v", len(entries), err)
	}
	if entries[0].Type != TypeMoney || entries[0].Amount != 250 {
		t.Errorf("unexpected entry %+v", entries[0])
	}

	again, _ := service.Collection("steve")
	if len(again) != 1 {
		t.Errorf("entry disappeared without a claim: %d entries", len(again))
	}
}

func TestConcurrentMoneyClaimsDepositOnce(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db, nil, true)

	if err := service.AddMoney(db, "steve", 100, "Item sold"); err != nil {
		t.Fatalf("failed to add entry: %v", err)
	}
	entries, err := service.Collection("steve")
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one entry, got %d err=%v", len(entries), err)
	}
	entry := entries[0]

	// Serialize sqlite writes at the pool so the race is decided by the
	// conditional delete, not by driver-level lock errors.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	var mu sync.Mutex
	deposits := 0
	deposited := 0.0
	deposit := func(playerID string, amount float64) bool {
		mu.Lock()
		defer mu.Unlock()
		deposits++
		deposited += amount
		return true
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = service.ClaimMoney(&entry, deposit)
		}(i)
	}
	wg.Wait()

	if deposits != 1 || deposited != 100 {
		t.Fatalf("expected exactly one deposit of 100, got %d deposits totalling %.2f", deposits, deposited)
	}
	wins, losses := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrEntryGone):
			losses++
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Errorf("expected one winner and one ErrEntryGone, got %d/%d", wins, losses)
	}
}

func TestRefusedDepositRequeuesEntry(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db, nil, true)

	if err := service.AddMoney(db, "steve", 250, "Item sold"); err != nil {
		t.Fatalf("failed to add entry: %v", err)
	}
	entries, _ := service.Collection("steve")
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}

	refuse := func(playerID string, amount float64) bool { return false }
	if err := service.ClaimMoney(&entries[0], refuse); err == nil {
		t.Fatal("expected an error from a refused deposit")
	}

	// The money must survive the failed claim as a fresh entry
	again, _ := service.Collection("steve")
	if len(again) != 1 {
		t.Fatalf("expected the entry restored, got %d entries", len(again))
	}
	if again[0].Type != TypeMoney || again[0].Amount != 250 || again[0].Reason != "Item sold" {
		t.Errorf("restored entry does not match the original: %+v", again[0])
	}
}

func TestNotificationsDrainOnce(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db, nil, true)

	service.Notify("steve", "ah-outbid", map[string]string{"item": "Elytra"})
	service.Notify("steve", "ah-item-sold", map[string]string{"item": "Bow"})
	service.Notify("alex", "ah-bid-won", map[string]string{"item": "Trident"})

	notifications, err := service.Drain("steve")
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(notifications) != 2 {
		t.Fatalf("expected two notifications, got %d", len(notifications))
	}
	if notifications[0].MessageKey != "ah-outbid" {
		t.Errorf("expected oldest first, got %s", notifications[0].MessageKey)
	}

	notifications, _ = service.Drain("steve")
	if len(notifications) != 0 {
		t.Errorf("expected drained queue, got %d", len(notifications))
	}

	// Alex's queue is untouched by steve's drain
	notifications, _ = service.Drain("alex")
	if len(notifications) != 1 {
		t.Errorf("expected alex's notification intact, got %d", len(notifications))
	}
}

func TestNotifySkipsQueueWhenDeliveredLive(t *testing.T) {
	db := newTestDB(t)
	pub := &fakePublisher{receivers: 1}
	service := NewService(db, pub, true)

	service.Notify("steve", "ah-outbid", map[string]string{"item": "Elytra"})

	if len(pub.published) != 1 {
		t.Fatalf("expected one publish, got %d", len(pub.published))
	}
	notifications, _ := service.Drain("steve")
	if len(notifications) != 0 {
		t.Errorf("live delivery must not queue, got %d", len(notifications))
	}
}

func TestNotifyQueuesWhenNobodyListening(t *testing.T) {
	db := newTestDB(t)
	pub := &fakePublisher{receivers: 0}
	service := NewService(db, pub, true)

	service.Notify("steve", "ah-outbid", map[string]string{"item": "Elytra"})

	notifications, _ := service.Drain("steve")
	if len(notifications) != 1 {
		t.Fatalf("expected queued notification, got %d", len(notifications))
	}
}

func TestNotifyPublishFailureFallsBackToQueue(t *testing.T) {
	db := newTestDB(t)
	pub := &fakePublisher{err: errors.New("connection refused")}
	service := NewService(db, pub, true)

	service.Notify("steve", "ah-outbid", map[string]string{"item": "Elytra"})

	notifications, _ := service.Drain("steve")
	if len(notifications) != 1 {
		t.Fatalf("publish failure must queue instead, got %d", len(notifications))
	}
}

func TestNotifyRespectsQueueOfflineFlag(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db, nil, false)

	service.Notify("steve", "ah-outbid", map[string]string{"item": "Elytra"})

	notifications, _ := service.Drain("steve")
	if len(notifications) != 0 {
		t.Errorf("queue-offline disabled must drop messages, got %d", len(notifications))
	}
}
