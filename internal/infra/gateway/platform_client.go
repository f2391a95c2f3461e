package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"challenge_server/internal/domain"
)

// tokenRefreshMargin renews the session this long before expiry; platform
// tokens live for roughly two minutes.
const tokenRefreshMargin = 30 * time.Second

type Options struct {
	APIKey       string
	Timeout      time.Duration
	RateLimitRPS float64
	RateBurst    int
}

// PlatformClient talks to the trading platform's REST bridge. One client
// is shared by all workers; the limiter enforces the platform's request
// budget across them.
type PlatformClient struct {
	client  *resty.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewPlatformClient(baseURL string, opts Options) (*PlatformClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("baseURL is required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := opts.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = int(rps)
	}

	client := resty.New().
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)

	return &PlatformClient{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  opts.APIKey,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

type authResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

type accountResponse struct {
	Balance       float64 `json:"balance"`
	Equity        float64 `json:"equity"`
	Margin        float64 `json:"margin"`
	FreeMargin    float64 `json:"free_margin"`
	MarginLevel   float64 `json:"margin_level"`
	CommissionCum float64 `json:"commission_cum"`
	SwapCum       float64 `json:"swap_cum"`
}

type positionResponse struct {
	Ticket     int64   `json:"ticket"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Volume     float64 `json:"volume"`
	OpenPrice  float64 `json:"open_price"`
	OpenTime   string  `json:"open_time"`
	Profit     float64 `json:"profit"`
	Swap       float64 `json:"swap"`
	Commission float64 `json:"commission"`
}

type tradeResponse struct {
	Ticket     int64   `json:"ticket"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Volume     float64 `json:"volume"`
	Price      float64 `json:"price"`
	Profit     float64 `json:"profit"`
	Commission float64 `json:"commission"`
	Swap       float64 `json:"swap"`
	ClosedAt   string  `json:"closed_at"`
}

type createAccountResponse struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Group    string `json:"group"`
}

// ensureToken authenticates (or re-authenticates shortly before expiry)
// and returns a token valid for the next call.
func (c *PlatformClient) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Until(c.tokenExpiry) > tokenRefreshMargin {
		return c.token, nil
	}

	var payload authResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("X-API-Key", c.apiKey).
		SetResult(&payload).
		Post(c.baseURL + "/auth/token")
	if err != nil {
		return "", &domain.GatewayError{Kind: domain.GatewayTransient, Op: "authenticate", Err: err}
	}
	if resp.StatusCode() >= 400 {
		return "", &domain.GatewayError{Kind: domain.GatewayAuth, Op: "authenticate", StatusCode: resp.StatusCode()}
	}

	c.token = payload.Token
	c.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	return c.token, nil
}

// call runs one authenticated request under the shared rate limiter and
// maps transport and status failures onto the gateway error taxonomy.
func (c *PlatformClient) call(ctx context.Context, op, method, path string, body any, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &domain.GatewayError{Kind: domain.GatewayTransient, Op: op, Err: err}
	}

	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	req := c.client.R().
		SetContext(ctx).
		SetAuthToken(token)
	if body != nil {
		req = req.SetBody(body)
	}
	if result != nil {
		req = req.SetResult(result)
	}

	resp, err := req.Execute(method, c.baseURL+path)
	if err != nil {
		return &domain.GatewayError{Kind: domain.GatewayTransient, Op: op, Err: err}
	}

	switch code := resp.StatusCode(); {
	case code < 400:
		return nil
	case code == http.StatusUnauthorized:
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		return &domain.GatewayError{Kind: domain.GatewayAuth, Op: op, StatusCode: code}
	case code == http.StatusTooManyRequests || code >= 500:
		return &domain.GatewayError{Kind: domain.GatewayTransient, Op: op, StatusCode: code}
	default:
		return &domain.GatewayError{Kind: domain.GatewayPermanent, Op: op, StatusCode: code}
	}
}

func (c *PlatformClient) Account(ctx context.Context, login string) (domain.AccountState, error) {
	var payload accountResponse
	if err := c.call(ctx, "getAccount", http.MethodGet, "/accounts/"+login, nil, &payload); err != nil {
		return domain.AccountState{}, err
	}

	return domain.AccountState{
		Balance:       payload.Balance,
		Equity:        payload.Equity,
		Margin:        payload.Margin,
		FreeMargin:    payload.FreeMargin,
		MarginLevel:   payload.MarginLevel,
		CommissionCum: payload.CommissionCum,
		SwapCum:       payload.SwapCum,
	}, nil
}

func (c *PlatformClient) Positions(ctx context.Context, login string) ([]domain.Position, error) {
	var payload []positionResponse
	if err := c.call(ctx, "getPositions", http.MethodGet, "/accounts/"+login+"/positions", nil, &payload); err != nil {
		return nil, err
	}

	positions := make([]domain.Position, 0, len(payload))
	for _, item := range payload {
		openTime, err := time.Parse(time.RFC3339, item.OpenTime)
		if err != nil {
			// Malformed rows are skipped so the rest of the book loads.
			continue
		}
		positions = append(positions, domain.Position{
			Ticket:     item.Ticket,
			Symbol:     item.Symbol,
			Side:       item.Side,
			Volume:     item.Volume,
			OpenPrice:  item.OpenPrice,
			OpenTime:   openTime,
			Profit:     item.Profit,
			Swap:       item.Swap,
			Commission: item.Commission,
		})
	}

	return positions, nil
}

func (c *PlatformClient) TradeHistory(ctx context.Context, login string, from, to time.Time) ([]domain.Trade, error) {
	path := fmt.Sprintf("/accounts/%s/trades?from=%s&to=%s",
		login, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))

	var payload []tradeResponse
	if err := c.call(ctx, "getTradeHistory", http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}

	trades := make([]domain.Trade, 0, len(payload))
	for _, item := range payload {
		closedAt, err := time.Parse(time.RFC3339, item.ClosedAt)
		if err != nil {
			continue
		}
		trades = append(trades, domain.Trade{
			Ticket:     item.Ticket,
			Symbol:     item.Symbol,
			Side:       item.Side,
			Volume:     item.Volume,
			Price:      item.Price,
			Profit:     item.Profit,
			Commission: item.Commission,
			Swap:       item.Swap,
			ClosedAt:   closedAt,
		})
	}

	return trades, nil
}

func (c *PlatformClient) CreateAccount(ctx context.Context, spec domain.AccountSpec) (domain.AccountCredentials, error) {
	var payload createAccountResponse
	body := map[string]any{
		"name":     spec.Name,
		"group":    spec.Group,
		"leverage": spec.Leverage,
		"balance":  spec.Balance,
	}
	if err := c.call(ctx, "createAccount", http.MethodPost, "/accounts", body, &payload); err != nil {
		return domain.AccountCredentials{}, err
	}

	return domain.AccountCredentials{
		Login:    payload.Login,
		Password: payload.Password,
		Group:    payload.Group,
	}, nil
}

func (c *PlatformClient) UpdateBalance(ctx context.Context, login string, amount float64, comment string) error {
	body := map[string]any{
		"amount":  amount,
		"comment": comment,
	}
	return c.call(ctx, "updateBalance", http.MethodPost, "/accounts/"+login+"/balance", body, nil)
}

func (c *PlatformClient) DisableAccount(ctx context.Context, login string) error {
	return c.call(ctx, "disableAccount", http.MethodPost, "/accounts/"+login+"/disable", nil, nil)
}
