package quote_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/engine/internal/quote"
)

func TestQuoteParsesFinnhubPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test-key", r.URL.Query().Get("token"))
		w.Write([]byte(`{"c":150.25,"d":1.5,"dp":1.01,"h":151,"l":148.5,"o":149,"pc":148.75,"t":1700000000}`))
	}))
	defer srv.Close()

	c := quote.NewClientWithBaseURL("test-key", srv.URL)
	q, err := c.Quote(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.True(t, q.Valid())
	assert.True(t, q.Current.Equal(decimal.NewFromFloat(150.25)))
	assert.Equal(t, 148.75, q.PrevClose)
	assert.EqualValues(t, 1700000000, q.Timestamp)
}

func TestQuoteInvalidPrices(t *testing.T) {
	for name, body := range map[string]string{
		"zero":     `{"c":0,"d":0,"dp":0,"h":0,"l":0,"o":0,"pc":0,"t":0}`,
		"negative": `{"c":-3.5,"d":0,"dp":0,"h":0,"l":0,"o":0,"pc":0,"t":0}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()

			c := quote.NewClientWithBaseURL("test-key", srv.URL)
			q, err := c.Quote(context.Background(), "JUNK")
			require.NoError(t, err)
			assert.False(t, q.Valid(), "non-positive price must be unusable")
		})
	}
}

func TestQuoteMissingAPIKey(t *testing.T) {
	c := quote.NewClient("")

	_, err := c.Quote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, quote.ErrNoAPIKey)

	_, err = c.Search(context.Background(), "apple")
	assert.ErrorIs(t, err, quote.ErrNoAPIKey)
}

func TestQuoteUpstreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"secret provider details"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := quote.NewClientWithBaseURL("test-key", srv.URL)
	_, err := c.Quote(context.Background(), "AAPL")
	require.ErrorIs(t, err, quote.ErrUpstream)
	assert.NotContains(t, err.Error(), "secret provider details",
		"provider response bodies must not leak")
}

func TestQuoteTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	c := quote.NewClientWithBaseURL("test-key", srv.URL)
	_, err := c.Quote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, quote.ErrUpstream)
}

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "apple", r.URL.Query().Get("q"))
		w.Write([]byte(`{"count":1,"result":[{"description":"APPLE INC","displaySymbol":"AAPL","symbol":"AAPL","type":"Common Stock"}]}`))
	}))
	defer srv.Close()

	c := quote.NewClientWithBaseURL("test-key", srv.URL)
	res, err := c.Search(context.Background(), "apple")
	require.NoError(t, err)
	require.Len(t, res.Result, 1)
	assert.Equal(t, "AAPL", res.Result[0].Symbol)
}

func TestSearchEmptyResultIsNotNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count":0,"result":null}`))
	}))
	defer srv.Close()

	c := quote.NewClientWithBaseURL("test-key", srv.URL)
	res, err := c.Search(context.Background(), "nothing")
	require.NoError(t, err)
	assert.NotNil(t, res.Result)
}
