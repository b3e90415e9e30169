package exchange

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// HTTPClientConfig содержит настройки HTTP транспорта REST клиента Binance
type HTTPClientConfig struct {
	ConnectTimeout      time.Duration // таймаут установки TCP соединения
	ResponseTimeout     time.Duration // таймаут ожидания заголовков ответа
	TotalTimeout        time.Duration // общий таймаут запроса
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
	KeepAliveInterval   time.Duration
}

// DefaultHTTPClientConfig возвращает конфигурацию для запроса с таймаутом requestTimeout
//
// Все REST вызовы идут на один хост, поэтому пул настроен на один хост.
func DefaultHTTPClientConfig(requestTimeout time.Duration) HTTPClientConfig {
	if requestTimeout <= 0 {
		requestTimeout = 5 * time.Second
	}
	connect := requestTimeout / 2
	if connect > 3*time.Second {
		connect = 3 * time.Second
	}
	return HTTPClientConfig{
		ConnectTimeout:      connect,
		ResponseTimeout:     requestTimeout,
		TotalTimeout:        2 * requestTimeout,
		MaxIdleConnsPerHost: 16,
		MaxConnsPerHost:     32,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: connect,
		KeepAliveInterval:   30 * time.Second,
	}
}

// NewHTTPClient создаёт http.Client с пулом keep-alive соединений
//
// Таймаут контекста запроса короче TotalTimeout и срабатывает первым.
func NewHTTPClient(config HTTPClientConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: config.KeepAliveInterval,
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        config.MaxIdleConnsPerHost,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		MaxConnsPerHost:     config.MaxConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
		TLSHandshakeTimeout: config.TLSHandshakeTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: config.ResponseTimeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.TotalTimeout,
	}
}

// closeIdle закрывает idle соединения клиента при остановке
func closeIdle(c *http.Client) {
	if c == nil {
		return
	}
	if transport, ok := c.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
