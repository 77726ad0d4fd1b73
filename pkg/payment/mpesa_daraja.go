package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// DarajaProvider implements M-Pesa STK push, transaction status query and B2C
// payouts against the Safaricom Daraja API.
type DarajaProvider struct {
	BaseURL            string
	ConsumerKey        string
	ConsumerSecret     string
	Shortcode          string
	Passkey            string
	InitiatorName      string
	SecurityCredential string
	CallbackBase       string // e.g. https://yourdomain.com

	client *http.Client
	log    *zap.Logger
}

func NewDarajaProvider(baseURL, consumerKey, consumerSecret, shortcode, passkey, initiatorName, securityCredential, callbackBase string, log *zap.Logger) *DarajaProvider {
	if baseURL == "" {
		baseURL = "https://sandbox.safaricom.co.ke"
	}
	return &DarajaProvider{
		BaseURL:            baseURL,
		ConsumerKey:        consumerKey,
		ConsumerSecret:     consumerSecret,
		Shortcode:          shortcode,
		Passkey:            passkey,
		InitiatorName:      initiatorName,
		SecurityCredential: securityCredential,
		CallbackBase:       callbackBase,
		client:             &http.Client{Timeout: 30 * time.Second},
		log:                log.Named("daraja"),
	}
}

type darajaTokenResp struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// getAccessToken fetches a fresh OAuth token per call, as the sandbox
// recommends; tokens are short-lived and not worth caching here.
func (p *DarajaProvider) getAccessToken(ctx context.Context) (string, error) {
	url := p.BaseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	auth := base64.StdEncoding.EncodeToString([]byte(p.ConsumerKey + ":" + p.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("daraja auth: %d", resp.StatusCode)
	}
	var out darajaTokenResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

// password is base64(shortcode + passkey + timestamp) per the Daraja spec.
func (p *DarajaProvider) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(p.Shortcode + p.Passkey + timestamp))
}

type stkPushReq struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResp struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

func (p *DarajaProvider) InitiateSTKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error) {
	token, err := p.getAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("stk push auth: %w", err)
	}
	timestamp := time.Now().Format("20060102150405")
	callbackURL := req.CallbackURL
	if callbackURL == "" && p.CallbackBase != "" {
		callbackURL = p.CallbackBase + "/api/v1/webhooks/mpesa"
	}
	desc := req.TransactionDesc
	if desc == "" {
		desc = "Payment"
	}
	payload := stkPushReq{
		BusinessShortCode: p.Shortcode,
		Password:          p.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            strconv.FormatInt(req.Amount, 10),
		PartyA:            req.PhoneNumber,
		PartyB:            p.Shortcode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       callbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   desc,
	}
	p.log.Info("initiating STK push",
		zap.String("account_reference", req.AccountReference),
		zap.Int64("amount", req.Amount))
	var out stkPushResp
	if err := p.post(ctx, token, "/mpesa/stkpush/v1/processrequest", payload, &out); err != nil {
		return nil, err
	}
	return &STKPushResponse{
		MerchantRequestID:   out.MerchantRequestID,
		CheckoutRequestID:   out.CheckoutRequestID,
		ResponseCode:        out.ResponseCode,
		ResponseDescription: out.ResponseDescription,
		CustomerMessage:     out.CustomerMessage,
	}, nil
}

type stkQueryReq struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResp struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

// QueryStatus asks Daraja for the outcome of an STK push. A transaction still
// being processed comes back as errorCode 500.001.1001, which maps to
// still-pending; network or auth failures surface as errors so the caller can
// retry on the next cycle.
func (p *DarajaProvider) QueryStatus(ctx context.Context, checkoutRequestID string) (*StatusResult, error) {
	token, err := p.getAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("status query auth: %w", err)
	}
	timestamp := time.Now().Format("20060102150405")
	payload := stkQueryReq{
		BusinessShortCode: p.Shortcode,
		Password:          p.password(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/mpesa/stkpushquery/v1/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	var out stkQueryResp
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("status query: %d %s", resp.StatusCode, string(respBody))
	}
	if out.ErrorCode == "500.001.1001" {
		return &StatusResult{Outcome: StatusPending, ResultDesc: out.ErrorMessage}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status query: %d %s", resp.StatusCode, string(respBody))
	}
	if out.ResultCode == "0" {
		return &StatusResult{Outcome: StatusSuccess, ResultCode: out.ResultCode, ResultDesc: out.ResultDesc}, nil
	}
	return &StatusResult{Outcome: StatusFailed, ResultCode: out.ResultCode, ResultDesc: out.ResultDesc}, nil
}

type b2cReq struct {
	InitiatorName      string `json:"InitiatorName"`
	SecurityCredential string `json:"SecurityCredential"`
	CommandID          string `json:"CommandID"`
	Amount             string `json:"Amount"`
	PartyA             string `json:"PartyA"`
	PartyB             string `json:"PartyB"`
	Remarks            string `json:"Remarks"`
	QueueTimeOutURL    string `json:"QueueTimeOutURL"`
	ResultURL          string `json:"ResultURL"`
	Occasion           string `json:"Occasion"`
}

type b2cResp struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

// InitiateB2C sends money to a customer phone (payout release).
func (p *DarajaProvider) InitiateB2C(ctx context.Context, req B2CRequest) (*B2CResponse, error) {
	token, err := p.getAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("b2c auth: %w", err)
	}
	resultURL := req.ResultURL
	if resultURL == "" && p.CallbackBase != "" {
		resultURL = p.CallbackBase + "/api/v1/webhooks/payout"
	}
	timeoutURL := req.TimeoutURL
	if timeoutURL == "" {
		timeoutURL = resultURL
	}
	remarks := req.Remarks
	if remarks == "" {
		remarks = "Escrow release"
	}
	payload := b2cReq{
		InitiatorName:      p.InitiatorName,
		SecurityCredential: p.SecurityCredential,
		CommandID:          "BusinessPayment",
		Amount:             strconv.FormatInt(req.Amount, 10),
		PartyA:             p.Shortcode,
		PartyB:             req.PhoneNumber,
		Remarks:            remarks,
		QueueTimeOutURL:    timeoutURL,
		ResultURL:          resultURL,
		Occasion:           req.Occasion,
	}
	p.log.Info("initiating B2C payout",
		zap.String("order_id", req.OrderID),
		zap.Int64("amount", req.Amount))
	var out b2cResp
	if err := p.post(ctx, token, "/mpesa/b2c/v1/paymentrequest", payload, &out); err != nil {
		return nil, err
	}
	return &B2CResponse{
		ConversationID:           out.ConversationID,
		OriginatorConversationID: out.OriginatorConversationID,
		ResponseCode:             out.ResponseCode,
		ResponseDescription:      out.ResponseDescription,
	}, nil
}

func (p *DarajaProvider) post(ctx context.Context, token, path string, payload, out any) error {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("daraja %s: %d %s", path, resp.StatusCode, string(respBody))
	}
	return json.Unmarshal(respBody, out)
}
