package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultBaseURL = "https://sheets.googleapis.com/v4/spreadsheets"

// Client talks to the spreadsheet values API: read a range, overwrite a
// range, append a row. All writes use user-entered value interpretation so
// numbers and dates are not forced to literal strings.
type Client struct {
	http    *http.Client
	baseURL string
}

func NewClient() *Client {
	return &Client{
		http:    &http.Client{Timeout: 15 * time.Second},
		baseURL: defaultBaseURL,
	}
}

// NewClientWithBase points the client at a different API base; used by tests.
func NewClientWithBase(baseURL string, hc *http.Client) *Client {
	c := NewClient()
	if baseURL != "" {
		c.baseURL = baseURL
	}
	if hc != nil {
		c.http = hc
	}
	return c
}

type valueRange struct {
	Range          string     `json:"range,omitempty"`
	MajorDimension string     `json:"majorDimension,omitempty"`
	Values         [][]string `json:"values"`
}

// ReadRange fetches the cells of an A1 range as strings.
func (c *Client) ReadRange(ctx context.Context, token, spreadsheetID, a1Range string) ([][]string, error) {
	endpoint := fmt.Sprintf("%s/%s/values/%s", c.baseURL, spreadsheetID, url.PathEscape(a1Range))

	var out struct {
		Values [][]interface{} `json:"values"`
	}
	if err := c.doRequest(ctx, http.MethodGet, endpoint, token, nil, &out); err != nil {
		return nil, err
	}

	rows := make([][]string, len(out.Values))
	for i, row := range out.Values {
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = fmt.Sprint(cell)
		}
		rows[i] = cells
	}
	return rows, nil
}

// UpdateRange overwrites an A1 range with the given rows.
func (c *Client) UpdateRange(ctx context.Context, token, spreadsheetID, a1Range string, values [][]string) error {
	endpoint := fmt.Sprintf("%s/%s/values/%s?valueInputOption=USER_ENTERED",
		c.baseURL, spreadsheetID, url.PathEscape(a1Range))
	body := valueRange{Range: a1Range, MajorDimension: "ROWS", Values: values}
	return c.doRequest(ctx, http.MethodPut, endpoint, token, &body, nil)
}

// AppendRow appends one row after the table found at the range, inserting a
// new row rather than overwriting.
func (c *Client) AppendRow(ctx context.Context, token, spreadsheetID, a1Range string, row []string) error {
	endpoint := fmt.Sprintf("%s/%s/values/%s:append?valueInputOption=USER_ENTERED&insertDataOption=INSERT_ROWS",
		c.baseURL, spreadsheetID, url.PathEscape(a1Range))
	body := valueRange{Values: [][]string{row}}
	return c.doRequest(ctx, http.MethodPost, endpoint, token, &body, nil)
}

func (c *Client) doRequest(ctx context.Context, method, endpoint, token string, body, response any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("sheets api status %d: %s", res.StatusCode, string(b))
	}

	if response == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(response)
}
