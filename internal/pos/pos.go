// Package pos is a client for the Toast point-of-sale orders API, used to
// import checks paid to house accounts.
package pos

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RestaurantHeader carries the restaurant GUID on every request.
const RestaurantHeader = "Toast-Restaurant-External-ID"

// PaymentTypeHouseAccount marks a payment charged to a house account.
const PaymentTypeHouseAccount = "HOUSE_ACCOUNT"

// BusinessDateLayout is the yyyymmdd form the orders API expects.
const BusinessDateLayout = "20060102"

// DefaultPageSize is the orders page size requested.
const DefaultPageSize = 100

// Error is a non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("pos: %d: %s", e.Status, e.Message)
}

// Ref points at another Toast object.
type Ref struct {
	GUID       string `json:"guid"`
	ExternalID string `json:"externalId,omitempty"`
}

// Payment is one tender applied to a check.
type Payment struct {
	GUID         string  `json:"guid"`
	Type         string  `json:"type"`
	Amount       float64 `json:"amount"`
	TipAmount    float64 `json:"tipAmount"`
	HouseAccount *Ref    `json:"houseAccount,omitempty"`
	PaidDate     string  `json:"paidDate,omitempty"`
}

// Check is a bill within an order.
type Check struct {
	GUID          string    `json:"guid"`
	DisplayNumber string    `json:"displayNumber"`
	TotalAmount   float64   `json:"totalAmount"`
	ClosedDate    string    `json:"closedDate,omitempty"`
	Voided        bool      `json:"voided"`
	Payments      []Payment `json:"payments"`
}

// Order is a POS order.
type Order struct {
	GUID         string  `json:"guid"`
	BusinessDate int     `json:"businessDate"`
	Voided       bool    `json:"voided"`
	Checks       []Check `json:"checks"`
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	Token          string
	RestaurantGUID string
	PageSize       int
	HTTPClient     *http.Client
}

// Client talks to the orders API.
type Client struct {
	baseURL    string
	token      string
	restaurant string
	pageSize   int
	http       *http.Client
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		restaurant: cfg.RestaurantGUID,
		pageSize:   cfg.PageSize,
		http:       cfg.HTTPClient,
	}
}

// Orders returns every order for a business date, following pages until a
// short page comes back.
func (c *Client) Orders(ctx context.Context, businessDate time.Time) ([]Order, error) {
	var out []Order
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("businessDate", businessDate.Format(BusinessDateLayout))
		q.Set("page", strconv.Itoa(page))
		q.Set("pageSize", strconv.Itoa(c.pageSize))

		var batch []Order
		if err := c.get(ctx, "/orders/v2/ordersBulk?"+q.Encode(), &batch); err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if len(batch) < c.pageSize {
			return out, nil
		}
	}
}

// HouseAccountCharge is a house-account payment found on a closed check.
type HouseAccountCharge struct {
	CheckGUID      string
	CheckNumber    string
	HouseAccountID string
	AmountCents    int64
	ClosedAt       time.Time
}

// HouseAccountCharges extracts house-account payments from non-voided checks.
func HouseAccountCharges(orders []Order) []HouseAccountCharge {
	var out []HouseAccountCharge
	for _, o := range orders {
		if o.Voided {
			continue
		}
		for _, chk := range o.Checks {
			if chk.Voided {
				continue
			}
			var cents int64
			account := ""
			for _, p := range chk.Payments {
				if p.Type != PaymentTypeHouseAccount || p.HouseAccount == nil {
					continue
				}
				account = p.HouseAccount.GUID
				cents += toCents(p.Amount + p.TipAmount)
			}
			if account == "" || cents == 0 {
				continue
			}
			closed, _ := time.Parse(time.RFC3339, chk.ClosedDate)
			out = append(out, HouseAccountCharge{
				CheckGUID:      chk.GUID,
				CheckNumber:    chk.DisplayNumber,
				HouseAccountID: account,
				AmountCents:    cents,
				ClosedAt:       closed,
			})
		}
	}
	return out
}

func toCents(amount float64) int64 {
	if amount < 0 {
		return -int64(-amount*100 + 0.5)
	}
	return int64(amount*100 + 0.5)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set(RestaurantHeader, c.restaurant)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		e := &Error{}
		if err := json.Unmarshal(body, e); err != nil || e.Message == "" {
			e.Message = strings.TrimSpace(string(body))
		}
		e.Status = resp.StatusCode
		return e
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
