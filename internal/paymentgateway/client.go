package paymentgateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	internal "github.com/fastgas/payment-reconciliation/internal"
)

const (
	oauthPath    = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath = "/mpesa/stkpushquery/v1/query"

	timestampLayout = "20060102150405"

	// queryPendingCode is the error code the query endpoint returns while
	// the push is still being processed on the handset.
	queryPendingCode = "500.001.1001"
)

// STKPushRequest is a push-payment initiation against the gateway.
type STKPushRequest struct {
	PhoneNumber      string
	Amount           int64
	AccountReference string
	Description      string
}

// STKPushResponse carries the two gateway-issued correlation ids. The
// CheckoutRequestID is the one callbacks are matched on.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// QueryResponse is the result of polling the gateway directly. Pending means
// the gateway has not settled the push yet and no result code applies.
type QueryResponse struct {
	Pending    bool
	ResultCode int
	ResultDesc string
}

type gatewayErrorBody struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Client talks to the Daraja STK push API. The OAuth token cache is
// per-client state, guarded by a mutex; construct one client at process
// start and inject it.
type Client struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	shortcode      string
	passkey        string
	callbackURL    string
	httpClient     *http.Client
	logger         *slog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewClient(cfg internal.GatewayConfig, logger *slog.Logger) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		shortcode:      cfg.Shortcode,
		passkey:        cfg.Passkey,
		callbackURL:    cfg.CallbackURL,
		httpClient:     &http.Client{Timeout: timeout},
		logger:         logger,
	}
}

// token returns a cached OAuth token, refreshing when within 30s of expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Until(c.tokenExpiry) > 30*time.Second {
		return c.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+oauthPath, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", internal.NewGatewayUnavailableError("gateway token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", internal.NewGatewayUnavailableError("failed to read token response", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("gateway token request rejected",
			"status", resp.StatusCode,
			"response", string(body))
		return "", internal.NewGatewayRejectedError("gateway rejected credentials", fmt.Errorf("token endpoint status %d", resp.StatusCode))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", internal.NewGatewayUnavailableError("unparseable token response", err)
	}

	ttl := 3600
	if n, err := strconv.Atoi(tokenResp.ExpiresIn); err == nil && n > 0 {
		ttl = n
	}

	c.accessToken = tokenResp.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(ttl) * time.Second)

	c.logger.Debug("gateway token refreshed", "expires_in_seconds", ttl)
	return c.accessToken, nil
}

// password derives the STK push credential for the given timestamp.
func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.shortcode + c.passkey + timestamp))
}

// STKPush asks the gateway to push a payment prompt to the payer's handset.
// Rejections come back as non-retryable AppErrors with the gateway's message;
// transport failures as retryable ones. Nothing is persisted here.
func (c *Client) STKPush(ctx context.Context, req *STKPushRequest) (*STKPushResponse, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().In(gatewayZone()).Format(timestampLayout)

	payload := map[string]interface{}{
		"BusinessShortCode": c.shortcode,
		"Password":          c.password(timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            req.Amount,
		"PartyA":            req.PhoneNumber,
		"PartyB":            c.shortcode,
		"PhoneNumber":       req.PhoneNumber,
		"CallBackURL":       c.callbackURL,
		"AccountReference":  req.AccountReference,
		"TransactionDesc":   req.Description,
	}

	body, err := c.post(ctx, stkPushPath, token, payload)
	if err != nil {
		return nil, err
	}

	var pushResp STKPushResponse
	if err := json.Unmarshal(body, &pushResp); err != nil {
		return nil, internal.NewGatewayUnavailableError("unparseable push response", err)
	}

	if pushResp.ResponseCode != "0" {
		c.logger.Error("gateway declined push request",
			"response_code", pushResp.ResponseCode,
			"response_description", pushResp.ResponseDescription)
		return nil, internal.NewGatewayRejectedError(pushResp.ResponseDescription, fmt.Errorf("response code %s", pushResp.ResponseCode))
	}
	if pushResp.CheckoutRequestID == "" {
		return nil, internal.NewGatewayUnavailableError("gateway accepted push without a correlation id", nil)
	}

	c.logger.Info("stk push accepted by gateway",
		"checkout_request_id", pushResp.CheckoutRequestID,
		"merchant_request_id", pushResp.MerchantRequestID,
		"account_reference", req.AccountReference)

	return &pushResp, nil
}

// QueryStatus polls the gateway for the outcome of an earlier push. Used to
// recover from lost callbacks before declaring a timeout.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (*QueryResponse, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().In(gatewayZone()).Format(timestampLayout)

	payload := map[string]interface{}{
		"BusinessShortCode": c.shortcode,
		"Password":          c.password(timestamp),
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}

	body, err := c.post(ctx, stkQueryPath, token, payload)
	if err != nil {
		if appErr, ok := internal.IsAppError(err); ok && appErr.Code == internal.ErrCodeGatewayRejected {
			// the query endpoint reports "still processing" through the
			// error channel; surface it as pending rather than a rejection
			var gwErr gatewayErrorBody
			if cause := appErr.Cause; cause != nil {
				if rejErr, ok := cause.(*rejectionError); ok {
					gwErr = rejErr.body
				}
			}
			if gwErr.ErrorCode == queryPendingCode {
				return &QueryResponse{Pending: true}, nil
			}
		}
		return nil, err
	}

	var queryResp struct {
		ResponseCode string `json:"ResponseCode"`
		ResultCode   string `json:"ResultCode"`
		ResultDesc   string `json:"ResultDesc"`
	}
	if err := json.Unmarshal(body, &queryResp); err != nil {
		return nil, internal.NewGatewayUnavailableError("unparseable query response", err)
	}

	code, err := strconv.Atoi(queryResp.ResultCode)
	if err != nil {
		return nil, internal.NewGatewayUnavailableError("query response missing result code", err)
	}

	return &QueryResponse{
		ResultCode: code,
		ResultDesc: queryResp.ResultDesc,
	}, nil
}

// rejectionError preserves the structured gateway error body for callers
// that need to branch on the error code.
type rejectionError struct {
	body gatewayErrorBody
}

func (e *rejectionError) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.body.ErrorCode, e.body.ErrorMessage)
}

func (c *Client) post(ctx context.Context, path, token string, payload map[string]interface{}) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gateway request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("gateway request failed", "path", path, "error", err)
		return nil, internal.NewGatewayUnavailableError("gateway unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, internal.NewGatewayUnavailableError("failed to read gateway response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var gwErr gatewayErrorBody
		_ = json.Unmarshal(body, &gwErr)
		c.logger.Error("gateway rejected request",
			"path", path,
			"status", resp.StatusCode,
			"error_code", gwErr.ErrorCode,
			"error_message", gwErr.ErrorMessage)
		message := gwErr.ErrorMessage
		if message == "" {
			message = fmt.Sprintf("gateway rejected request with status %d", resp.StatusCode)
		}
		return nil, internal.NewGatewayRejectedError(message, &rejectionError{body: gwErr})
	default:
		c.logger.Error("gateway returned server error",
			"path", path,
			"status", resp.StatusCode,
			"response", string(body))
		return nil, internal.NewGatewayUnavailableError(fmt.Sprintf("gateway returned status %d", resp.StatusCode), nil)
	}
}

func gatewayZone() *time.Location {
	loc, err := time.LoadLocation("Africa/Nairobi")
	if err != nil {
		return time.FixedZone("EAT", 3*60*60)
	}
	return loc
}
