// Package provider talks to the ticket mall HTTP API and normalizes its
// response codes.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL   = "https://show.bilibili.com"
	defaultGaiaURL   = "https://api.bilibili.com"
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	projectVersion   = "134"
)

// Config holds the session and the ticket tier to buy.
type Config struct {
	BaseURL         string
	GaiaURL         string
	Cookie          string
	ProjectID       int64
	ScreenID        int64
	SkuID           int64
	Count           int
	BuyerInfo       string // JSON array of buyer records
	RequestInterval time.Duration
	Timeout         time.Duration
	UserAgent       string
}

// ResponseFunc is notified of every classified response.
type ResponseFunc func(op Operation, resp Response)

// Client is a stateful session against the ticket mall.
//
// It is not safe for concurrent use; the purchase workflow drives it from a
// single goroutine.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	onResponse ResponseFunc
	now        func() time.Time

	csrf         string
	prepareToken string
	riskParams   json.RawMessage
	riskToken    string
	orderToken   string
	orderID      string
	price        int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client (for testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithResponseFunc registers a hook for every classified response.
func WithResponseFunc(fn ResponseFunc) Option {
	return func(c *Client) { c.onResponse = fn }
}

// New creates a Client. The cookie must contain bili_jct, which doubles as
// the CSRF token on form posts.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.Cookie == "" {
		return nil, ErrMissingCookie
	}
	csrf := cookieValue(cfg.Cookie, "bili_jct")
	if csrf == "" {
		return nil, ErrMissingCSRF
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.GaiaURL == "" {
		cfg.GaiaURL = defaultGaiaURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger.Named("provider"),
		now:        time.Now,
		csrf:       csrf,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SaleStart returns the sale-start instant of the configured ticket tier.
func (c *Client) SaleStart(ctx context.Context) (time.Time, error) {
	resp, sku, err := c.projectInfo(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if !resp.OK() {
		return time.Time{}, &StatusError{Op: OpProjectInfo, Response: resp}
	}
	start := sku.Get("sale_start").Int()
	if start == 0 {
		return time.Time{}, fmt.Errorf("%w: ticket tier has no sale_start", ErrMalformedResponse)
	}
	return time.Unix(start, 0), nil
}

// WarmInventoryCache fetches the project listing once so the ticket price
// is known before the first order is submitted.
func (c *Client) WarmInventoryCache(ctx context.Context) (Response, bool, error) {
	return c.PollInventory(ctx)
}

// PollInventory reports whether the configured tier is purchasable now.
func (c *Client) PollInventory(ctx context.Context) (Response, bool, error) {
	resp, sku, err := c.projectInfo(ctx)
	if err != nil {
		return Response{}, false, err
	}
	if !resp.OK() {
		return resp, false, nil
	}
	if price := sku.Get("price").Int(); price > 0 {
		c.price = price
	}
	return resp, sku.Get("clickable").Bool(), nil
}

// AcquireToken requests a purchase token for the configured tier. A
// NeedsVerification response leaves the risk parameters on the session for
// PendingChallenge.
func (c *Client) AcquireToken(ctx context.Context) (Response, error) {
	endpoint := fmt.Sprintf("%s/api/ticket/order/prepare?project_id=%d", c.cfg.BaseURL, c.cfg.ProjectID)
	body := map[string]any{
		"project_id":    c.cfg.ProjectID,
		"screen_id":     c.cfg.ScreenID,
		"sku_id":        c.cfg.SkuID,
		"count":         c.cfg.Count,
		"order_type":    1,
		"token":         "",
		"newRisk":       true,
		"requestSource": "pc-new",
	}

	resp, data, err := c.postJSON(ctx, OpPrepare, endpoint, body)
	if err != nil {
		return Response{}, err
	}

	switch resp.Code {
	case CodeSuccess:
		c.prepareToken = data.Get("token").String()
	case CodeNeedsVerification:
		c.riskParams = json.RawMessage(data.Get("ga_data.riskParams").Raw)
	}
	return resp, nil
}

// PendingChallenge registers the stored risk parameters and returns the
// challenge the provider wants solved.
func (c *Client) PendingChallenge(ctx context.Context) (Response, Challenge, error) {
	endpoint := fmt.Sprintf("%s/x/gaia-vgate/v1/register", c.cfg.GaiaURL)

	params := url.Values{}
	params.Set("csrf", c.csrf)
	if len(c.riskParams) > 0 {
		for key, value := range gjson.ParseBytes(c.riskParams).Map() {
			params.Set(key, value.String())
		}
	}

	env, data, err := c.postForm(ctx, endpoint, params)
	if err != nil {
		return Response{}, Challenge{}, err
	}
	raw, message := envelopeStatus(env)

	if raw == RawAlreadyVerified {
		resp := Response{Code: CodeSuccess, Raw: raw, Message: message, Reason: "already verified elsewhere"}
		c.notify(OpRiskInfo, resp)
		return resp, Challenge{Kind: ChallengeNone}, nil
	}

	resp := NewResponse(OpRiskInfo, raw, message)
	c.notify(OpRiskInfo, resp)
	if !resp.OK() {
		return resp, Challenge{}, nil
	}

	c.riskToken = data.Get("token").String()
	challenge := Challenge{
		Kind: ChallengeKind(data.Get("type").String()),
		Payload: ChallengePayload{
			Token:     c.riskToken,
			GT:        data.Get("geetest.gt").String(),
			Challenge: data.Get("geetest.challenge").String(),
			Phone:     data.Get("phone.tel").String(),
		},
	}
	return resp, challenge, nil
}

// SubmitChallengeProof validates a solved visual challenge.
func (c *Client) SubmitChallengeProof(ctx context.Context, proof Proof) (Response, error) {
	params := url.Values{}
	params.Set("token", c.riskToken)
	params.Set("csrf", c.csrf)
	params.Set("challenge", proof.Challenge)
	params.Set("validate", proof.Validate)
	params.Set("seccode", proof.Seccode)
	return c.validate(ctx, params)
}

// ConfirmChallengeByPhone validates using the account's bound phone.
func (c *Client) ConfirmChallengeByPhone(ctx context.Context) (Response, error) {
	params := url.Values{}
	params.Set("token", c.riskToken)
	params.Set("csrf", c.csrf)
	params.Set("mode", "phone")
	return c.validate(ctx, params)
}

func (c *Client) validate(ctx context.Context, params url.Values) (Response, error) {
	endpoint := fmt.Sprintf("%s/x/gaia-vgate/v1/validate", c.cfg.GaiaURL)
	env, _, err := c.postForm(ctx, endpoint, params)
	if err != nil {
		return Response{}, err
	}
	raw, message := envelopeStatus(env)
	resp := NewResponse(OpRiskValidate, raw, message)
	c.notify(OpRiskValidate, resp)
	return resp, nil
}

// SubmitOrder creates the purchase order with the current token.
func (c *Client) SubmitOrder(ctx context.Context) (Response, error) {
	endpoint := fmt.Sprintf("%s/api/ticket/order/createV2?project_id=%d", c.cfg.BaseURL, c.cfg.ProjectID)
	body := map[string]any{
		"project_id":    c.cfg.ProjectID,
		"screen_id":     c.cfg.ScreenID,
		"sku_id":        c.cfg.SkuID,
		"count":         c.cfg.Count,
		"pay_money":     c.price * int64(c.cfg.Count),
		"order_type":    1,
		"timestamp":     c.now().UnixMilli(),
		"token":         c.prepareToken,
		"buyer_info":    c.cfg.BuyerInfo,
		"newRisk":       true,
		"requestSource": "pc-new",
	}

	resp, data, err := c.postJSON(ctx, OpCreateOrder, endpoint, body)
	if err != nil {
		return Response{}, err
	}
	if resp.OK() {
		c.orderID = data.Get("orderId").String()
		c.orderToken = data.Get("token").String()
	}
	return resp, nil
}

// SubmitOrderStatusQuery asks whether the last created order is ready to be
// looked up.
func (c *Client) SubmitOrderStatusQuery(ctx context.Context) (bool, error) {
	q := url.Values{}
	q.Set("project_id", strconv.FormatInt(c.cfg.ProjectID, 10))
	q.Set("token", c.orderToken)
	q.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	q.Set("orderId", c.orderID)

	resp, _, err := c.get(ctx, OpCreateStatus, c.cfg.BaseURL+"/api/ticket/order/createstatus?"+q.Encode())
	if err != nil {
		return false, err
	}
	return resp.OK(), nil
}

// PollOrderFinalized reports whether the order exists in a created or paid
// state.
func (c *Client) PollOrderFinalized(ctx context.Context) (bool, error) {
	if c.orderID == "" {
		return false, nil
	}
	q := url.Values{}
	q.Set("order_id", c.orderID)

	resp, data, err := c.get(ctx, OpOrderInfo, c.cfg.BaseURL+"/api/ticket/order/info?"+q.Encode())
	if err != nil {
		return false, err
	}
	if !resp.OK() {
		return false, nil
	}
	status := data.Get("status").Int()
	return status == 1 || status == 2, nil
}

// OrderID returns the id of the last created order, if any.
func (c *Client) OrderID() string { return c.orderID }

func (c *Client) projectInfo(ctx context.Context) (Response, gjson.Result, error) {
	q := url.Values{}
	q.Set("version", projectVersion)
	q.Set("id", strconv.FormatInt(c.cfg.ProjectID, 10))
	q.Set("project_id", strconv.FormatInt(c.cfg.ProjectID, 10))

	resp, data, err := c.get(ctx, OpProjectInfo, c.cfg.BaseURL+"/api/ticket/project/getV2?"+q.Encode())
	if err != nil {
		return Response{}, gjson.Result{}, err
	}
	if !resp.OK() {
		return resp, gjson.Result{}, nil
	}

	path := fmt.Sprintf("screen_list.#(id==%d).ticket_list.#(id==%d)", c.cfg.ScreenID, c.cfg.SkuID)
	sku := data.Get(path)
	if !sku.Exists() {
		return c.tierMissing(), gjson.Result{}, nil
	}
	return resp, sku, nil
}

// tierMissing is the response for a screen/sku pair absent from the
// project listing. The provider would reject it with 100082 on prepare.
func (c *Client) tierMissing() Response {
	return Response{
		Code:    CodeFatal,
		Raw:     RawUnknownScreenOrSku,
		Message: fmt.Sprintf("screen %d sku %d not listed in project %d", c.cfg.ScreenID, c.cfg.SkuID, c.cfg.ProjectID),
		Reason:  fatalReasons[RawUnknownScreenOrSku],
	}
}

func (c *Client) get(ctx context.Context, op Operation, endpoint string) (Response, gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Response{}, gjson.Result{}, fmt.Errorf("creating request: %w", err)
	}
	return c.classified(op, req)
}

func (c *Client) postJSON(ctx context.Context, op Operation, endpoint string, body any) (Response, gjson.Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, gjson.Result{}, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, gjson.Result{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.classified(op, req)
}

func (c *Client) postForm(ctx context.Context, endpoint string, params url.Values) (gjson.Result, gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return gjson.Result{}, gjson.Result{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	env, err := c.send(req)
	if err != nil {
		return gjson.Result{}, gjson.Result{}, err
	}
	return env, env.Get("data"), nil
}

func (c *Client) classified(op Operation, req *http.Request) (Response, gjson.Result, error) {
	env, err := c.send(req)
	if err != nil {
		return Response{}, gjson.Result{}, err
	}
	raw, message := envelopeStatus(env)
	resp := NewResponse(op, raw, message)
	c.notify(op, resp)
	return resp, env.Get("data"), nil
}

func (c *Client) send(req *http.Request) (gjson.Result, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return gjson.Result{}, err
	}

	req.Header.Set("Cookie", c.cfg.Cookie)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Referer", "https://show.bilibili.com/")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("%w: %s returned HTTP %d", ErrUnexpectedStatus, req.URL.Path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("reading %s: %w", req.URL.Path, err)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrMalformedResponse, req.URL.Path)
	}

	env := gjson.ParseBytes(body)
	c.logger.Debug("provider response",
		zap.String("path", req.URL.Path),
		zap.Int64("code", firstOf(env, "code", "errno").Int()))
	return env, nil
}

func (c *Client) notify(op Operation, resp Response) {
	if c.onResponse != nil {
		c.onResponse(op, resp)
	}
}

// envelopeStatus extracts the raw code and message. Endpoints disagree on
// field names: some use code/message, others errno/msg.
func envelopeStatus(env gjson.Result) (int, string) {
	return int(firstOf(env, "code", "errno").Int()), firstOf(env, "message", "msg").String()
}

func firstOf(env gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := env.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func cookieValue(cookie, name string) string {
	for _, part := range strings.Split(cookie, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && key == name {
			return value
		}
	}
	return ""
}
