package sheets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sheettree-backend/models"
	"sheettree-backend/pipeline"
)

// TimestampHeader is the column created on first write to record when each
// row arrived.
const TimestampHeader = "Submitted At"

const timestampLayout = "2006-01-02 15:04:05"

// TokenSource yields a valid destination-API access token for a tenant user,
// refreshing it when needed.
type TokenSource interface {
	AccessToken(ctx context.Context, userID string) (string, error)
}

// Syncer drives one write against the destination sheet:
// Authenticate -> EnsureHeaders -> MapFields -> ExpandHeadersIfNeeded ->
// AppendRow. Header-mutating writes are serialized per spreadsheet; pure
// appends against a known-stable header row run without the lock.
type Syncer struct {
	client *Client
	tokens TokenSource

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSyncer(client *Client, tokens TokenSource) *Syncer {
	return &Syncer{
		client: client,
		tokens: tokens,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *Syncer) spreadsheetLock(spreadsheetID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[spreadsheetID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[spreadsheetID] = l
	}
	return l
}

// Write maps the payload onto the live header row and appends one row.
// The returned map is the mapped data as written, keyed by header, for the
// audit record. A failure never loses the inbound payload; callers persist
// the audit row either way.
func (s *Syncer) Write(ctx context.Context, userID string, sheet *models.ConnectedSheet, payload map[string]string, orderedKeys []string, now time.Time) (map[string]string, *pipeline.Error) {
	token, err := s.tokens.AccessToken(ctx, userID)
	if err != nil {
		return nil, pipeline.Errorf(pipeline.AuthError, "%s", err.Error())
	}

	headerRange := fmt.Sprintf("%s!1:1", sheet.SheetName)
	headers, err := s.readHeaders(ctx, token, sheet.SpreadsheetID, headerRange)
	if err != nil {
		return nil, pipeline.Errorf(pipeline.SheetWriteError, "header read failed: %v", err)
	}

	result := MapFields(payload, orderedKeys, headers)

	if len(headers) == 0 || len(result.UnmappedFields) > 0 {
		// Another request may be expanding the same sheet; take the
		// per-spreadsheet lock and re-resolve against the live row.
		lock := s.spreadsheetLock(sheet.SpreadsheetID)
		lock.Lock()
		defer lock.Unlock()

		headers, err = s.readHeaders(ctx, token, sheet.SpreadsheetID, headerRange)
		if err != nil {
			return nil, pipeline.Errorf(pipeline.SheetWriteError, "header read failed: %v", err)
		}
		result = MapFields(payload, orderedKeys, headers)

		headers, err = s.expandHeaders(ctx, token, sheet, headers, result.UnmappedFields)
		if err != nil {
			return nil, pipeline.Errorf(pipeline.SheetWriteError, "header update failed: %v", err)
		}
	}

	row, mapped := buildRow(headers, result.MappedData, now)
	appendRange := fmt.Sprintf("%s!A1", sheet.SheetName)
	if err := s.client.AppendRow(ctx, token, sheet.SpreadsheetID, appendRange, row); err != nil {
		return mapped, pipeline.Errorf(pipeline.SheetWriteError, "row append failed: %v", err)
	}
	return mapped, nil
}

func (s *Syncer) readHeaders(ctx context.Context, token, spreadsheetID, headerRange string) ([]string, error) {
	rows, err := s.client.ReadRange(ctx, token, spreadsheetID, headerRange)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// expandHeaders creates the header row on first write (payload keys in
// declaration order plus the timestamp column) or appends the unmapped field
// names as new columns after the existing ones. Header columns are
// append-only for the lifetime of a sheet.
func (s *Syncer) expandHeaders(ctx context.Context, token string, sheet *models.ConnectedSheet, headers, unmapped []string) ([]string, error) {
	if len(headers) == 0 {
		created := append(append([]string{}, unmapped...), TimestampHeader)
		rng := fmt.Sprintf("%s!A1:%s1", sheet.SheetName, ColumnLetter(len(created)))
		if err := s.client.UpdateRange(ctx, token, sheet.SpreadsheetID, rng, [][]string{created}); err != nil {
			return nil, err
		}
		return created, nil
	}

	if len(unmapped) == 0 {
		return headers, nil
	}

	start := len(headers) + 1
	end := len(headers) + len(unmapped)
	rng := fmt.Sprintf("%s!%s1:%s1", sheet.SheetName, ColumnLetter(start), ColumnLetter(end))
	if err := s.client.UpdateRange(ctx, token, sheet.SpreadsheetID, rng, [][]string{unmapped}); err != nil {
		return nil, err
	}
	return append(headers, unmapped...), nil
}

// buildRow walks the header list in order. The timestamp column, when
// exactly one exists, always carries the current server time; headers with
// no mapped value get an empty cell.
func buildRow(headers []string, mapped map[string]string, now time.Time) ([]string, map[string]string) {
	tsIdx := TimestampColumn(headers)
	row := make([]string, len(headers))
	written := make(map[string]string, len(headers))
	for i, h := range headers {
		v := mapped[h]
		if i == tsIdx {
			v = now.Format(timestampLayout)
		}
		row[i] = v
		if v != "" {
			written[h] = v
		}
	}
	return row, written
}
