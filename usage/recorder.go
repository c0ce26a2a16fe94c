package usage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"sheettree-backend/logger"
	"sheettree-backend/models"

	"gorm.io/gorm"
)

// ipSetCap bounds the per-day IP sets; past the cap the unique-IP counter
// stops growing, which keeps it an estimate rather than a guarantee.
const ipSetCap = 10000

// Recorder maintains the per-(config, day) usage aggregates and the
// per-call submission audit trail. Counter updates run as single SQL
// statements so concurrent requests cannot lose increments.
type Recorder struct {
	db *gorm.DB

	mu      sync.Mutex
	day     string
	seenIPs map[string]map[string]struct{} // configID -> today's IPs
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db, seenIPs: make(map[string]map[string]struct{})}
}

// Audit persists the per-call submission record. It is written for every
// request that passed the gatekeeper key check, whatever the outcome.
func (r *Recorder) Audit(sub *models.Submission) error {
	return r.db.Create(sub).Error
}

// MarkSheetOutcome records the result of the sheet-write step on an
// existing audit row.
func (r *Recorder) MarkSheetOutcome(submissionID string, written bool, sheetErr *string) error {
	return r.db.Model(&models.Submission{}).
		Where("id = ?", submissionID).
		Updates(map[string]any{"sheet_written": written, "sheet_error": sheetErr}).Error
}

// Record upserts the daily aggregate for the config and bumps the config's
// last-used marker.
func (r *Recorder) Record(configID, ip string, success bool, responseTimeMs float64, now time.Time) error {
	now = now.UTC()
	date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	ipDelta := 0
	if r.markIP(configID, ip, date) {
		ipDelta = 1
	}

	succ, fail := 0, 1
	if success {
		succ, fail = 1, 0
	}

	updates := map[string]any{
		"total_requests":       gorm.Expr("total_requests + 1"),
		"successful_requests":  gorm.Expr("successful_requests + ?", succ),
		"failed_requests":      gorm.Expr("failed_requests + ?", fail),
		"avg_response_time_ms": gorm.Expr("avg_response_time_ms + ((? - avg_response_time_ms) / (total_requests + 1))", responseTimeMs),
		"unique_ips":           gorm.Expr("unique_ips + ?", ipDelta),
		"updated_at":           now,
	}

	res := r.db.Model(&models.UsageAggregate{}).
		Where("api_config_id = ? AND date = ?", configID, date).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		agg := models.UsageAggregate{
			ApiConfigID:        configID,
			Date:               date,
			TotalRequests:      1,
			SuccessfulRequests: int64(succ),
			FailedRequests:     int64(fail),
			AvgResponseTimeMs:  responseTimeMs,
			UniqueIPs:          int64(ipDelta),
		}
		if err := r.db.Create(&agg).Error; err != nil {
			// A concurrent request created the row first; fold into it.
			retry := r.db.Model(&models.UsageAggregate{}).
				Where("api_config_id = ? AND date = ?", configID, date).
				Updates(updates)
			if retry.Error != nil || retry.RowsAffected == 0 {
				return errors.Join(err, retry.Error)
			}
		}
	}

	if err := r.db.Model(&models.ApiConfig{}).
		Where("id = ?", configID).
		Update("last_used_at", now).Error; err != nil {
		logger.Warn("usage: last_used_at update failed for config %s: %v", configID, err)
	}
	return nil
}

// markIP reports whether this IP is new for the config today. Process-local
// by design; multi-instance deployments under-count, which is acceptable for
// an estimate.
func (r *Recorder) markIP(configID, ip string, date time.Time) bool {
	if ip == "" {
		return false
	}
	day := date.Format("2006-01-02")

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.day != day {
		r.day = day
		r.seenIPs = make(map[string]map[string]struct{})
	}
	set, ok := r.seenIPs[configID]
	if !ok {
		set = make(map[string]struct{})
		r.seenIPs[configID] = set
	}
	if _, seen := set[ip]; seen {
		return false
	}
	if len(set) >= ipSetCap {
		return false
	}
	set[ip] = struct{}{}
	return true
}

// Daily returns the aggregate for one config and day; used by the dashboard.
func (r *Recorder) Daily(configID string, date time.Time) (*models.UsageAggregate, error) {
	date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	var agg models.UsageAggregate
	if err := r.db.Where("api_config_id = ? AND date = ?", configID, date).First(&agg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("no usage recorded for %s", date.Format("2006-01-02"))
		}
		return nil, err
	}
	return &agg, nil
}
