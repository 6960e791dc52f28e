package pix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"ms-bolao/internal/config"
	"ms-bolao/internal/errs"
	"ms-bolao/internal/logger"
)

// Client talks to the instant-payment gateway's charge API. Every call is
// bounded by the injected http.Client's timeout; no local state is mutated
// here.
type Client struct {
	baseURL     string
	pixKey      string
	environment string
	client      *http.Client
	log         *logger.Logger
}

func NewClient(cfg config.PixConfig, client *http.Client, log *logger.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		pixKey:      cfg.PixKey,
		environment: cfg.Environment,
		client:      client,
		log:         log,
	}
}

func (c *Client) Environment() string { return c.environment }

type CreateChargeRequest struct {
	TxID           string
	Amount         float64
	ExpirationSecs int
	PayerName      string
	PayerPhone     string
}

// ChargePayload is what the reconciliation logic depends on from the
// gateway: identifier, status, amount, QR payload, expiration.
type ChargePayload struct {
	TxID       string
	Status     ChargeStatus
	RawStatus  string
	Amount     float64
	Location   string
	CopiaECola string
	Expiration int
}

type chargeBody struct {
	Calendario struct {
		Expiracao int `json:"expiracao"`
	} `json:"calendario"`
	Devedor *struct {
		Nome string `json:"nome"`
	} `json:"devedor,omitempty"`
	Valor struct {
		Original string `json:"original"`
	} `json:"valor"`
	Chave              string `json:"chave"`
	SolicitacaoPagador string `json:"solicitacaoPagador,omitempty"`
}

type chargeResponse struct {
	TxID       string `json:"txid"`
	Status     string `json:"status"`
	Calendario struct {
		Expiracao int `json:"expiracao"`
	} `json:"calendario"`
	Valor struct {
		Original string `json:"original"`
	} `json:"valor"`
	Location      string `json:"location"`
	PixCopiaECola string `json:"pixCopiaECola"`
}

// CreateCharge issues a new charge at the gateway under the given txid.
func (c *Client) CreateCharge(ctx context.Context, req CreateChargeRequest) (*ChargePayload, error) {
	body := chargeBody{Chave: c.pixKey}
	body.Calendario.Expiracao = req.ExpirationSecs
	body.Valor.Original = fmt.Sprintf("%.2f", req.Amount)
	if req.PayerName != "" {
		body.Devedor = &struct {
			Nome string `json:"nome"`
		}{Nome: req.PayerName}
		body.SolicitacaoPagador = "Bolao - pagamento de bilhete"
	}

	payload, _ := json.Marshal(body)
	url := fmt.Sprintf("%s/v2/cob/%s", c.baseURL, req.TxID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewBuffer(payload))
	if err != nil {
		return nil, &errs.GatewayError{Op: "create charge", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.log.Error("PIX", fmt.Sprintf("Create charge request failed for %s: %v", req.TxID, err))
		return nil, &errs.GatewayError{Op: "create charge", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		c.log.Error("PIX", fmt.Sprintf("Create charge for %s returned %d: %s", req.TxID, resp.StatusCode, string(raw)))
		return nil, &errs.GatewayError{Op: "create charge", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	return c.decodeCharge(resp.Body, "create charge")
}

// QueryCharge fetches the gateway's current view of a charge. A 404 is a
// NotFoundError; transport failures and unexpected payloads are GatewayError
// and leave the caller free to retry.
func (c *Client) QueryCharge(ctx context.Context, txid string) (*ChargePayload, error) {
	url := fmt.Sprintf("%s/v2/cob/%s", c.baseURL, txid)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &errs.GatewayError{Op: "query charge", Err: err}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.log.Error("PIX", fmt.Sprintf("Query charge request failed for %s: %v", txid, err))
		return nil, &errs.GatewayError{Op: "query charge", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &errs.NotFoundError{Resource: "charge", ID: txid}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &errs.GatewayError{Op: "query charge", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	return c.decodeCharge(resp.Body, "query charge")
}

func (c *Client) decodeCharge(r io.Reader, op string) (*ChargePayload, error) {
	var cr chargeResponse
	if err := json.NewDecoder(r).Decode(&cr); err != nil {
		return nil, &errs.GatewayError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}

	amount, err := strconv.ParseFloat(cr.Valor.Original, 64)
	if err != nil {
		return nil, &errs.GatewayError{Op: op, Err: fmt.Errorf("parse amount %q: %w", cr.Valor.Original, err)}
	}

	return &ChargePayload{
		TxID:       cr.TxID,
		Status:     ParseChargeStatus(cr.Status),
		RawStatus:  cr.Status,
		Amount:     amount,
		Location:   cr.Location,
		CopiaECola: cr.PixCopiaECola,
		Expiration: cr.Calendario.Expiracao,
	}, nil
}
