package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"riskgate/internal/config"
	"riskgate/pkg/utils"
)

var testNow = time.Date(2024, 3, 1, 10, 0, 30, 0, time.UTC)

func testExchangeConfig() config.ExchangeConfig {
	return config.ExchangeConfig{
		RequestsPerSecond: 1000,
		Burst:             1000,
		MaxRetries:        2,
		RetryBackoff:      time.Millisecond,
		RequestTimeout:    time.Second,
	}
}

// klinesJSON строит n минутных свечей, последняя ещё формируется на testNow
func klinesJSON(n int) string {
	start := testNow.Truncate(time.Minute).Add(-time.Duration(n-1) * time.Minute)
	rows := make([]string, 0, n)
	for i := 0; i < n; i++ {
		open := start.Add(time.Duration(i) * time.Minute)
		closeMs := open.Add(time.Minute).UnixMilli() - 1
		price := 100.0 + float64(i)
		rows = append(rows, fmt.Sprintf(
			`[%d,"%.2f","%.2f","%.2f","%.2f","10.0",%d,"%.2f",42,"5.0","500.0","0"]`,
			open.UnixMilli(), price, price+0.5, price-0.5, price+0.25, closeMs, price*10))
	}
	return "[" + strings.Join(rows, ",") + "]"
}

type binanceStub struct {
	statsCalls  int32
	statsErrors int32 // сколько первых запросов статистики вернут 500
	klines      string
	bookStatus  int
}

func (s *binanceStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&s.statsCalls, 1)
		symbol := r.URL.Query().Get("symbol")
		if symbol == "NOPEUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
			return
		}
		if n <= atomic.LoadInt32(&s.statsErrors) {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"code":-1001,"msg":"Internal error; unable to process your request."}`)
			return
		}
		fmt.Fprintf(w, `{"symbol":%q,"lastPrice":"120.00","bidPrice":"119.90","askPrice":"120.10",`+
			`"highPrice":"130.00","lowPrice":"90.00","quoteVolume":"25000000.00","openTime":0,"closeTime":0}`, symbol)
	})
	mux.HandleFunc("/api/v3/ticker/bookTicker", func(w http.ResponseWriter, r *http.Request) {
		if s.bookStatus != 0 {
			w.WriteHeader(s.bookStatus)
			fmt.Fprint(w, `{"code":-1000,"msg":"unknown"}`)
			return
		}
		fmt.Fprintf(w, `{"symbol":%q,"bidPrice":"119.99","bidQty":"1","askPrice":"120.01","askQty":"1"}`,
			r.URL.Query().Get("symbol"))
	})
	mux.HandleFunc("/api/v3/klines", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, s.klines)
	})
	return mux
}

func newTestProvider(t *testing.T, stub *binanceStub, opts ...ProviderOption) *BinanceProvider {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	opts = append([]ProviderOption{WithBaseURL(srv.URL), WithProviderClock(func() time.Time { return testNow })}, opts...)
	p := NewBinanceProvider(testExchangeConfig(), utils.NewNopLogger(), opts...)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestBinanceProvider_GetSnapshot(t *testing.T) {
	stub := &binanceStub{klines: klinesJSON(16)}
	p := newTestProvider(t, stub)

	snap, err := p.GetSnapshot(context.Background(), "btc/usdt")
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}

	if snap.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q, want BTCUSDT", snap.Symbol)
	}
	if snap.Last != 120 || snap.VolumeUSD != 25_000_000 {
		t.Errorf("Last = %v VolumeUSD = %v", snap.Last, snap.VolumeUSD)
	}
	// bid/ask из book ticker, не из 24h статистики
	if snap.Bid != 119.99 || snap.Ask != 120.01 {
		t.Errorf("Bid/Ask = %v/%v, want book ticker quote", snap.Bid, snap.Ask)
	}
	// последняя закрытая свеча: i = 14 (15-я формируется)
	if snap.High != 114.5 || snap.Low != 113.5 || snap.Close != 114.25 {
		t.Errorf("range = %v/%v/%v, want last closed candle", snap.High, snap.Low, snap.Close)
	}
	if snap.ATR == nil || *snap.ATR <= 0 {
		t.Errorf("ATR = %v, want positive", snap.ATR)
	}
	if snap.RestLatencyMs < 0 {
		t.Errorf("RestLatencyMs = %v", snap.RestLatencyMs)
	}
	if !snap.Timestamp.Equal(testNow) {
		t.Errorf("Timestamp = %v", snap.Timestamp)
	}
}

func TestBinanceProvider_SnapshotFallsBackOn24hQuote(t *testing.T) {
	stub := &binanceStub{klines: "[]", bookStatus: http.StatusServiceUnavailable}
	p := newTestProvider(t, stub)

	snap, err := p.GetSnapshot(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if snap.Bid != 119.9 || snap.Ask != 120.1 {
		t.Errorf("Bid/Ask = %v/%v, want 24h quote", snap.Bid, snap.Ask)
	}
	if snap.High != 130 || snap.Low != 90 || snap.Close != 120 {
		t.Errorf("range = %v/%v/%v, want 24h range", snap.High, snap.Low, snap.Close)
	}
	if snap.ATR != nil {
		t.Error("ATR must be nil without candles")
	}
}

func TestBinanceProvider_UnknownSymbolNotRetried(t *testing.T) {
	stub := &binanceStub{klines: "[]"}
	p := newTestProvider(t, stub)

	_, err := p.GetSnapshot(context.Background(), "NOPEUSDT")
	if !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("error = %v, want ErrUnknownSymbol", err)
	}
	var xe *ExchangeError
	if !errors.As(err, &xe) || xe.Code != codeInvalidSymbol {
		t.Errorf("error = %#v, want ExchangeError with code %d", err, codeInvalidSymbol)
	}
	if n := atomic.LoadInt32(&stub.statsCalls); n != 1 {
		t.Errorf("stats calls = %d, want 1 (no retry)", n)
	}
}

func TestBinanceProvider_RetriesServerErrors(t *testing.T) {
	stub := &binanceStub{klines: klinesJSON(16), statsErrors: 2}
	p := newTestProvider(t, stub)

	if _, err := p.GetSnapshot(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if n := atomic.LoadInt32(&stub.statsCalls); n != 3 {
		t.Errorf("stats calls = %d, want 3", n)
	}
}

func TestBinanceProvider_GivesUpAfterMaxRetries(t *testing.T) {
	stub := &binanceStub{klines: "[]", statsErrors: 100}
	p := newTestProvider(t, stub)

	_, err := p.GetSnapshot(context.Background(), "BTCUSDT")
	var xe *ExchangeError
	if !errors.As(err, &xe) {
		t.Fatalf("error = %v, want ExchangeError", err)
	}
	if n := atomic.LoadInt32(&stub.statsCalls); n != 3 {
		t.Errorf("stats calls = %d, want 3 (1 + 2 retries)", n)
	}
}

func TestBinanceProvider_GetHistory(t *testing.T) {
	stub := &binanceStub{klines: klinesJSON(16)}
	p := newTestProvider(t, stub)

	candles, err := p.GetHistory(context.Background(), "BTCUSDT", "1m", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(candles) != 10 {
		t.Fatalf("len = %d, want 10", len(candles))
	}
	for i := 1; i < len(candles); i++ {
		if !candles[i].OpenTime.After(candles[i-1].OpenTime) {
			t.Fatal("candles must be oldest first")
		}
	}
	last := candles[len(candles)-1]
	if last.Close != 114.25 || last.QuoteVolume != 1140 {
		t.Errorf("last candle = %+v, want last closed candle", last)
	}
}

func TestBinanceProvider_GetHistoryErrors(t *testing.T) {
	p := newTestProvider(t, &binanceStub{klines: "[]"})

	if _, err := p.GetHistory(context.Background(), "BTCUSDT", "7m", 10); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("error = %v, want ErrInvalidInterval", err)
	}
	if _, err := p.GetHistory(context.Background(), "BTCUSDT", "1h", 10); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("error = %v, want ErrEmptyResponse", err)
	}
}

func TestBinanceProvider_CanceledContext(t *testing.T) {
	p := newTestProvider(t, &binanceStub{klines: "[]"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.GetSnapshot(ctx, "BTCUSDT"); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
