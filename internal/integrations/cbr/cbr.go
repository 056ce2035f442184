package cbr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Dan9191/finance-ledger/internal/config"
	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// BaseCurrency is the currency CBR quotes every rate in
const BaseCurrency = "RUB"

// Client handles integration with Central Bank of Russia
type Client struct {
	url    string
	client *http.Client
	log    *logrus.Logger
}

// NewClient initializes a new CBR client
func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	return &Client{
		url: cfg.CBRURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

// buildSOAPRequest creates a SOAP request for the daily rates on date
func (c *Client) buildSOAPRequest(date time.Time) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
		<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">
			<soap12:Body>
				<GetCursOnDate xmlns="http://web.cbr.ru/">
					<On_date>%s</On_date>
				</GetCursOnDate>
			</soap12:Body>
		</soap12:Envelope>`, date.Format("2006-01-02"))
}

// sendRequest sends SOAP request to CBR
func (c *Client) sendRequest(ctx context.Context, soapRequest string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBufferString(soapRequest))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	req.Header.Set("SOAPAction", "http://web.cbr.ru/GetCursOnDate")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debugf("CBR XML response: %d bytes", len(body))
	return body, nil
}

// ParseDailyRates extracts rates from a GetCursOnDate response.
// Each rate is the price of one unit of the currency in RUB.
func ParseDailyRates(rawBody []byte) (map[string]decimal.Decimal, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}

	elements := doc.FindElements("//ValuteData/ValuteCursOnDate")
	if len(elements) == 0 {
		return nil, fmt.Errorf("no rate data found in XML")
	}

	rates := map[string]decimal.Decimal{BaseCurrency: decimal.NewFromInt(1)}
	for _, el := range elements {
		code := el.FindElement("./VchCode")
		curs := el.FindElement("./Vcurs")
		nom := el.FindElement("./Vnom")
		if code == nil || curs == nil || nom == nil {
			return nil, fmt.Errorf("incomplete rate element in XML")
		}

		value, err := decimal.NewFromString(strings.TrimSpace(curs.Text()))
		if err != nil {
			return nil, fmt.Errorf("failed to parse rate for %s: %w", code.Text(), err)
		}
		units, err := decimal.NewFromString(strings.TrimSpace(nom.Text()))
		if err != nil || !units.IsPositive() {
			return nil, fmt.Errorf("invalid nominal for %s: %q", code.Text(), nom.Text())
		}
		rates[strings.TrimSpace(code.Text())] = value.Div(units)
	}
	return rates, nil
}

// DailyRates retrieves the official rates on date from CBR
func (c *Client) DailyRates(ctx context.Context, date time.Time) (map[string]decimal.Decimal, error) {
	body, err := c.sendRequest(ctx, c.buildSOAPRequest(date))
	if err != nil {
		return nil, err
	}

	rates, err := ParseDailyRates(body)
	if err != nil {
		return nil, err
	}

	c.log.Infof("Retrieved %d CBR rates for %s", len(rates), date.Format("2006-01-02"))
	return rates, nil
}
