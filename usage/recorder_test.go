package usage

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"sheettree-backend/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		// One connection keeps concurrent writers serialized under sqlite.
		sqlDB.SetMaxOpenConns(1)
	}
	err = db.AutoMigrate(&models.ApiConfig{}, &models.Submission{}, &models.UsageAggregate{})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedConfig(t *testing.T, db *gorm.DB) *models.ApiConfig {
	t.Helper()
	cfg := models.ApiConfig{FormID: "form-1"}
	if err := db.Create(&cfg).Error; err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return &cfg
}

func TestRecordCreatesAndIncrements(t *testing.T) {
	db := testDB(t)
	cfg := seedConfig(t, db)
	rec := NewRecorder(db)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := rec.Record(cfg.Id, "1.1.1.1", true, 100, now); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := rec.Record(cfg.Id, "2.2.2.2", false, 300, now.Add(time.Minute)); err != nil {
		t.Fatalf("record: %v", err)
	}

	agg, err := rec.Daily(cfg.Id, now)
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if agg.TotalRequests != 2 || agg.SuccessfulRequests != 1 || agg.FailedRequests != 1 {
		t.Errorf("counters = %d/%d/%d", agg.TotalRequests, agg.SuccessfulRequests, agg.FailedRequests)
	}
	if math.Abs(agg.AvgResponseTimeMs-200) > 0.001 {
		t.Errorf("running mean = %v, want 200", agg.AvgResponseTimeMs)
	}
	if agg.UniqueIPs != 2 {
		t.Errorf("unique IPs = %d, want 2", agg.UniqueIPs)
	}
}

func TestRecordDedupesIPsWithinDay(t *testing.T) {
	db := testDB(t)
	cfg := seedConfig(t, db)
	rec := NewRecorder(db)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if err := rec.Record(cfg.Id, "1.1.1.1", true, 50, now); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	agg, _ := rec.Daily(cfg.Id, now)
	if agg.UniqueIPs != 1 {
		t.Errorf("unique IPs = %d, want 1", agg.UniqueIPs)
	}
	if agg.TotalRequests != 5 {
		t.Errorf("total = %d, want 5", agg.TotalRequests)
	}
}

func TestRecordSeparatesDays(t *testing.T) {
	db := testDB(t)
	cfg := seedConfig(t, db)
	rec := NewRecorder(db)

	day1 := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	rec.Record(cfg.Id, "1.1.1.1", true, 10, day1)
	rec.Record(cfg.Id, "1.1.1.1", true, 10, day2)

	agg1, err := rec.Daily(cfg.Id, day1)
	if err != nil {
		t.Fatalf("daily day1: %v", err)
	}
	agg2, err := rec.Daily(cfg.Id, day2)
	if err != nil {
		t.Fatalf("daily day2: %v", err)
	}
	if agg1.TotalRequests != 1 || agg2.TotalRequests != 1 {
		t.Errorf("per-day totals = %d/%d", agg1.TotalRequests, agg2.TotalRequests)
	}
}

func TestRecordUpdatesLastUsedAt(t *testing.T) {
	db := testDB(t)
	cfg := seedConfig(t, db)
	rec := NewRecorder(db)

	if cfg.LastUsedAt != nil {
		t.Fatal("precondition: last_used_at unset")
	}
	rec.Record(cfg.Id, "1.1.1.1", true, 10, time.Now())

	var reloaded models.ApiConfig
	db.First(&reloaded, "id = ?", cfg.Id)
	if reloaded.LastUsedAt == nil {
		t.Error("last_used_at not updated")
	}
}

func TestConcurrentRecordLosesNoIncrements(t *testing.T) {
	db := testDB(t)
	cfg := seedConfig(t, db)
	rec := NewRecorder(db)
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec.Record(cfg.Id, fmt.Sprintf("10.0.0.%d", i), i%2 == 0, 100, now)
		}(i)
	}
	wg.Wait()

	agg, err := rec.Daily(cfg.Id, now)
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if agg.TotalRequests != 20 {
		t.Errorf("total = %d, want 20", agg.TotalRequests)
	}
	if agg.SuccessfulRequests+agg.FailedRequests != 20 {
		t.Errorf("split = %d+%d", agg.SuccessfulRequests, agg.FailedRequests)
	}
}

func TestAuditAndSheetOutcome(t *testing.T) {
	db := testDB(t)
	cfg := seedConfig(t, db)
	rec := NewRecorder(db)

	sub := models.Submission{ApiConfigID: cfg.Id, IPAddress: "1.1.1.1"}
	if err := rec.Audit(&sub); err != nil {
		t.Fatalf("audit: %v", err)
	}

	msg := "row append failed"
	if err := rec.MarkSheetOutcome(sub.Id, false, &msg); err != nil {
		t.Fatalf("mark: %v", err)
	}

	var stored models.Submission
	db.First(&stored, "id = ?", sub.Id)
	if stored.SheetWritten || stored.SheetError == nil || *stored.SheetError != msg {
		t.Errorf("stored = %+v", stored)
	}
}
