package cbr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Dan9191/finance-ledger/internal/config"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResponse = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
  <soap:Body>
    <GetCursOnDateResponse xmlns="http://web.cbr.ru/">
      <GetCursOnDateResult>
        <diffgr:diffgram xmlns:diffgr="urn:schemas-microsoft-com:xml-diffgram-v1">
          <ValuteData xmlns="">
            <ValuteCursOnDate>
              <Vname>US Dollar</Vname>
              <Vnom>1</Vnom>
              <Vcurs>90.5000</Vcurs>
              <Vcode>840</Vcode>
              <VchCode>USD</VchCode>
            </ValuteCursOnDate>
            <ValuteCursOnDate>
              <Vname>Japanese Yen</Vname>
              <Vnom>100</Vnom>
              <Vcurs>60.0000</Vcurs>
              <Vcode>392</Vcode>
              <VchCode>JPY</VchCode>
            </ValuteCursOnDate>
          </ValuteData>
        </diffgr:diffgram>
      </GetCursOnDateResult>
    </GetCursOnDateResponse>
  </soap:Body>
</soap:Envelope>`

func TestParseDailyRates(t *testing.T) {
	rates, err := ParseDailyRates([]byte(sampleResponse))
	require.NoError(t, err)

	assert.True(t, rates["RUB"].Equal(decimal.NewFromInt(1)))
	assert.True(t, rates["USD"].Equal(decimal.RequireFromString("90.5")))
	assert.True(t, rates["JPY"].Equal(decimal.RequireFromString("0.6")))
}

func TestParseDailyRates_Invalid(t *testing.T) {
	_, err := ParseDailyRates([]byte("not xml <"))
	assert.Error(t, err)

	_, err = ParseDailyRates([]byte(`<ValuteData></ValuteData>`))
	assert.Error(t, err)

	_, err = ParseDailyRates([]byte(`<ValuteData><ValuteCursOnDate><VchCode>USD</VchCode><Vnom>1</Vnom><Vcurs>abc</Vcurs></ValuteCursOnDate></ValuteData>`))
	assert.Error(t, err)
}

func TestClient_DailyRates(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.Write([]byte(sampleResponse))
	}))
	defer server.Close()

	log := logrus.New()
	log.SetOutput(io.Discard)
	client := NewClient(&config.Config{CBRURL: server.URL}, log)

	rates, err := client.DailyRates(context.Background(), time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, rates, 3)
	assert.True(t, strings.Contains(gotBody, "<On_date>2024-02-03</On_date>"))
}

func TestClient_DailyRatesStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	log := logrus.New()
	log.SetOutput(io.Discard)
	client := NewClient(&config.Config{CBRURL: server.URL}, log)

	_, err := client.DailyRates(context.Background(), time.Now())
	assert.Error(t, err)
}
