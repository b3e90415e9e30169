package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config содержит всю конфигурацию приложения
//
// Создаётся один раз при старте через Load() и дальше только читается.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Kafka    KafkaConfig
	Exchange ExchangeConfig
	Security SecurityConfig
	Targets  TargetsConfig
	Filters  FiltersConfig
	Safety   SafetyConfig
	Selector SelectorConfig
	Gate     GateConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string // CORS и WebSocket; пусто - dev режим
}

// DatabaseConfig - настройки подключения к БД (журнал решений, blacklist)
type DatabaseConfig struct {
	Enabled      bool
	Driver       string
	Host         string
	Port         int
	Name         string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
}

// KafkaConfig - шина сигналов, исходов и решений
type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	GroupID        string
	ClientID       string
	SignalsTopic   string
	OutcomesTopic  string
	DecisionsTopic string
}

// ExchangeConfig - источник рыночных данных (Binance spot)
type ExchangeConfig struct {
	APIKey            string
	APISecret         string
	Testnet           bool
	RequestsPerSecond int           // лимит REST запросов
	Burst             int           // размер корзины токенов
	MaxRetries        int           // повторы REST запросов
	RetryBackoff      time.Duration // начальная задержка повтора
	RequestTimeout    time.Duration // таймаут одного REST запроса
	TrackWsLatency    bool          // подписка на aggTrade для измерения задержки WS
}

// SecurityConfig - настройки доступа к admin API
type SecurityConfig struct {
	JWTSecret     string
	JWTTTL        time.Duration
	APISecretHash string // bcrypt хэш секрета оператора
}

// TargetsConfig - калькулятор TP/SL и модель издержек
type TargetsConfig struct {
	Mode            string // fixed_min | atr_dynamic
	TPMinBps        float64
	TPAtrMultiplier float64
	SLAtrMultiplier float64
	MinRewardToRisk float64

	TakerFeeBps float64
	MakerFeeBps float64
	SlippageBps float64
	BufferBps   float64
}

// FiltersConfig - пороги pre-trade фильтров
type FiltersConfig struct {
	MinRangeBps      float64
	MaxSpreadBps     float64
	MinVolumeUSD     float64
	MaxWsLatencyMs   float64
	MaxRestLatencyMs float64
}

// SafetyConfig - лимиты машины безопасности
type SafetyConfig struct {
	MaxConsecutiveLosses    int           // порог входа в cooldown
	HardConsecutiveLosses   int           // порог kill switch
	CooldownDuration        time.Duration // длительность cooldown
	MaxProbationTrades      int           // сделок в probation
	ProbationSizeMultiplier float64       // множитель размера в probation
	DailyLossLimitPct       float64       // % от капитала на начало дня
	DrawdownLimitPct        float64       // % от пика капитала за день
	MinTradeSpacing         time.Duration
	MaxTradesPerHour        int
	MaxTradesPerDay         int
	InitialCapital          float64
}

// SelectorConfig - селектор торгуемых инструментов
type SelectorConfig struct {
	Candidates             []string
	Fallback               []string
	MaxActivePairs         int
	RebalanceInterval      time.Duration
	MinTimeBetweenSwitches time.Duration
	LockOnOpenPosition     bool
	MaxCorrelation         float64
	MinVolumeUSD           float64
	MinAtrBps              float64
	MaxSpreadBps           float64
	MinTrendScore          float64
	VolatilityFloorBps     float64
	SpreadEstimateBps      float64 // если живого спреда нет
	HistoryInterval        string
	LookbackCandles        int
	FetchTimeout           time.Duration
	MaxConcurrentFetches   int
}

// GateConfig - оркестратор решений
type GateConfig struct {
	Workers         int           // количество шардов-воркеров
	QueueSize       int           // буфер сигналов на шард
	SnapshotTimeout time.Duration // таймаут получения снапшота
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Output      string
	Development bool
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsSlice("ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			Enabled:      getEnvAsBool("DB_ENABLED", true),
			Driver:       getEnv("DB_DRIVER", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			Name:         getEnv("DB_NAME", "riskgate"),
			User:         getEnv("DB_USER", "user"),
			Password:     getEnv("DB_PASSWORD", "password"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		},
		Kafka: KafkaConfig{
			Enabled:        getEnvAsBool("KAFKA_ENABLED", true),
			Brokers:        getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupID:        getEnv("KAFKA_GROUP_ID", "riskgate"),
			ClientID:       getEnv("KAFKA_CLIENT_ID", "riskgate"),
			SignalsTopic:   getEnv("KAFKA_SIGNALS_TOPIC", "trade-signals"),
			OutcomesTopic:  getEnv("KAFKA_OUTCOMES_TOPIC", "trade-outcomes"),
			DecisionsTopic: getEnv("KAFKA_DECISIONS_TOPIC", "trade-decisions"),
		},
		Exchange: ExchangeConfig{
			APIKey:            getEnv("BINANCE_API_KEY", ""),
			APISecret:         getEnv("BINANCE_API_SECRET", ""),
			Testnet:           getEnvAsBool("BINANCE_TESTNET", false),
			RequestsPerSecond: getEnvAsInt("BINANCE_REQUESTS_PER_SECOND", 10),
			Burst:             getEnvAsInt("BINANCE_BURST", 20),
			MaxRetries:        getEnvAsInt("BINANCE_MAX_RETRIES", 3),
			RetryBackoff:      getEnvAsDuration("BINANCE_RETRY_BACKOFF", 200*time.Millisecond),
			RequestTimeout:    getEnvAsDuration("BINANCE_REQUEST_TIMEOUT", 5*time.Second),
			TrackWsLatency:    getEnvAsBool("BINANCE_TRACK_WS_LATENCY", true),
		},
		Security: SecurityConfig{
			JWTSecret:     getEnv("JWT_SECRET", ""),
			JWTTTL:        getEnvAsDuration("JWT_TTL", 12*time.Hour),
			APISecretHash: getEnv("API_SECRET_HASH", ""),
		},
		Targets: TargetsConfig{
			Mode:            getEnv("TARGET_MODE", "fixed_min"),
			TPMinBps:        getEnvAsFloat("TP_MIN_BPS", 22.0),
			TPAtrMultiplier: getEnvAsFloat("TP_ATR_MULTIPLIER", 1.5),
			SLAtrMultiplier: getEnvAsFloat("SL_ATR_MULTIPLIER", 1.0),
			MinRewardToRisk: getEnvAsFloat("MIN_REWARD_TO_RISK", 1.25),
			TakerFeeBps:     getEnvAsFloat("TAKER_FEE_BPS", 7.5),
			MakerFeeBps:     getEnvAsFloat("MAKER_FEE_BPS", 2.0),
			SlippageBps:     getEnvAsFloat("SLIPPAGE_BPS", 1.5),
			BufferBps:       getEnvAsFloat("BUFFER_BPS", 4.0),
		},
		Filters: FiltersConfig{
			MinRangeBps:      getEnvAsFloat("FILTER_MIN_RANGE_BPS", 5.0),
			MaxSpreadBps:     getEnvAsFloat("FILTER_MAX_SPREAD_BPS", 3.0),
			MinVolumeUSD:     getEnvAsFloat("FILTER_MIN_VOLUME_USD", 1_000_000),
			MaxWsLatencyMs:   getEnvAsFloat("FILTER_MAX_WS_LATENCY_MS", 1500),
			MaxRestLatencyMs: getEnvAsFloat("FILTER_MAX_REST_LATENCY_MS", 2000),
		},
		Safety: SafetyConfig{
			MaxConsecutiveLosses:    getEnvAsInt("SAFETY_MAX_CONSECUTIVE_LOSSES", 2),
			HardConsecutiveLosses:   getEnvAsInt("SAFETY_HARD_CONSECUTIVE_LOSSES", 5),
			CooldownDuration:        getEnvAsDuration("SAFETY_COOLDOWN", 180*time.Second),
			MaxProbationTrades:      getEnvAsInt("SAFETY_PROBATION_TRADES", 1),
			ProbationSizeMultiplier: getEnvAsFloat("SAFETY_PROBATION_SIZE_MULTIPLIER", 0.5),
			DailyLossLimitPct:       getEnvAsFloat("SAFETY_DAILY_LOSS_LIMIT_PCT", 3.0),
			DrawdownLimitPct:        getEnvAsFloat("SAFETY_DRAWDOWN_LIMIT_PCT", 5.0),
			MinTradeSpacing:         getEnvAsDuration("SAFETY_MIN_TRADE_SPACING", 30*time.Second),
			MaxTradesPerHour:        getEnvAsInt("SAFETY_MAX_TRADES_PER_HOUR", 10),
			MaxTradesPerDay:         getEnvAsInt("SAFETY_MAX_TRADES_PER_DAY", 50),
			InitialCapital:          getEnvAsFloat("SAFETY_INITIAL_CAPITAL", 1000),
		},
		Selector: SelectorConfig{
			Candidates: getEnvAsSlice("SELECTOR_CANDIDATES", []string{
				"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT",
				"DOGEUSDT", "ADAUSDT", "AVAXUSDT", "LINKUSDT", "DOTUSDT",
			}),
			Fallback:               getEnvAsSlice("SELECTOR_FALLBACK", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}),
			MaxActivePairs:         getEnvAsInt("SELECTOR_MAX_ACTIVE_PAIRS", 5),
			RebalanceInterval:      getEnvAsDuration("SELECTOR_REBALANCE_INTERVAL", 15*time.Minute),
			MinTimeBetweenSwitches: getEnvAsDuration("SELECTOR_MIN_TIME_BETWEEN_SWITCHES", 1*time.Hour),
			LockOnOpenPosition:     getEnvAsBool("SELECTOR_LOCK_ON_OPEN_POSITION", true),
			MaxCorrelation:         getEnvAsFloat("SELECTOR_MAX_CORRELATION", 0.85),
			MinVolumeUSD:           getEnvAsFloat("SELECTOR_MIN_VOLUME_USD", 5_000_000),
			MinAtrBps:              getEnvAsFloat("SELECTOR_MIN_ATR_BPS", 10),
			MaxSpreadBps:           getEnvAsFloat("SELECTOR_MAX_SPREAD_BPS", 3.0),
			MinTrendScore:          getEnvAsFloat("SELECTOR_MIN_TREND_SCORE", 0.3),
			VolatilityFloorBps:     getEnvAsFloat("SELECTOR_VOLATILITY_FLOOR_BPS", 15),
			SpreadEstimateBps:      getEnvAsFloat("SELECTOR_SPREAD_ESTIMATE_BPS", 1.0),
			HistoryInterval:        getEnv("SELECTOR_HISTORY_INTERVAL", "1h"),
			LookbackCandles:        getEnvAsInt("SELECTOR_LOOKBACK_CANDLES", 24),
			FetchTimeout:           getEnvAsDuration("SELECTOR_FETCH_TIMEOUT", 10*time.Second),
			MaxConcurrentFetches:   getEnvAsInt("SELECTOR_MAX_CONCURRENT_FETCHES", 8),
		},
		Gate: GateConfig{
			Workers:         getEnvAsInt("GATE_WORKERS", 8),
			QueueSize:       getEnvAsInt("GATE_QUEUE_SIZE", 256),
			SnapshotTimeout: getEnvAsDuration("GATE_SNAPSHOT_TIMEOUT", 3*time.Second),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Output:      getEnv("LOG_OUTPUT", "stderr"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	// Валидация параметров доступа к admin API
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
//
// Без API_SECRET_HASH мутирующие маршруты недоступны, и JWT_SECRET не нужен.
func (c *Config) validateSecurity() error {
	if c.Security.APISecretHash == "" {
		return nil
	}

	if c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when API_SECRET_HASH is set")
	}

	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters for security")
	}

	if c.Security.JWTTTL < time.Minute {
		return fmt.Errorf("JWT_TTL must be at least 1m, got %v", c.Security.JWTTTL)
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS must not be empty when KAFKA_ENABLED")
	}

	// Биржа
	if c.Exchange.RequestsPerSecond <= 0 {
		return fmt.Errorf("BINANCE_REQUESTS_PER_SECOND must be positive, got %d", c.Exchange.RequestsPerSecond)
	}

	if c.Exchange.MaxRetries < 0 || c.Exchange.MaxRetries > 10 {
		return fmt.Errorf("BINANCE_MAX_RETRIES must be between 0 and 10, got %d", c.Exchange.MaxRetries)
	}

	if c.Exchange.RequestTimeout <= 0 {
		return fmt.Errorf("BINANCE_REQUEST_TIMEOUT must be positive, got %v", c.Exchange.RequestTimeout)
	}

	// Калькулятор целей
	if c.Targets.Mode != "fixed_min" && c.Targets.Mode != "atr_dynamic" {
		return fmt.Errorf("TARGET_MODE must be fixed_min or atr_dynamic, got %q", c.Targets.Mode)
	}

	if c.Targets.TakerFeeBps < 0 || c.Targets.MakerFeeBps < 0 || c.Targets.SlippageBps < 0 || c.Targets.BufferBps < 0 {
		return fmt.Errorf("fee, slippage and buffer bps cannot be negative")
	}

	if c.Targets.MinRewardToRisk <= 0 {
		return fmt.Errorf("MIN_REWARD_TO_RISK must be positive, got %v", c.Targets.MinRewardToRisk)
	}

	if c.Targets.TPAtrMultiplier <= 0 || c.Targets.SLAtrMultiplier <= 0 {
		return fmt.Errorf("ATR multipliers must be positive")
	}

	// Фильтры
	if c.Filters.MinRangeBps < 0 || c.Filters.MaxSpreadBps <= 0 || c.Filters.MinVolumeUSD < 0 {
		return fmt.Errorf("filter thresholds out of range")
	}

	if c.Filters.MaxWsLatencyMs <= 0 || c.Filters.MaxRestLatencyMs <= 0 {
		return fmt.Errorf("latency thresholds must be positive")
	}

	// Безопасность торговли
	if c.Safety.MaxConsecutiveLosses < 1 {
		return fmt.Errorf("SAFETY_MAX_CONSECUTIVE_LOSSES must be at least 1, got %d", c.Safety.MaxConsecutiveLosses)
	}

	if c.Safety.HardConsecutiveLosses < c.Safety.MaxConsecutiveLosses {
		return fmt.Errorf("SAFETY_HARD_CONSECUTIVE_LOSSES (%d) must be >= SAFETY_MAX_CONSECUTIVE_LOSSES (%d)",
			c.Safety.HardConsecutiveLosses, c.Safety.MaxConsecutiveLosses)
	}

	if c.Safety.CooldownDuration <= 0 {
		return fmt.Errorf("SAFETY_COOLDOWN must be positive, got %v", c.Safety.CooldownDuration)
	}

	if c.Safety.MaxProbationTrades < 1 {
		return fmt.Errorf("SAFETY_PROBATION_TRADES must be at least 1, got %d", c.Safety.MaxProbationTrades)
	}

	if c.Safety.ProbationSizeMultiplier <= 0 || c.Safety.ProbationSizeMultiplier > 1 {
		return fmt.Errorf("SAFETY_PROBATION_SIZE_MULTIPLIER must be in (0, 1], got %v", c.Safety.ProbationSizeMultiplier)
	}

	if c.Safety.DailyLossLimitPct <= 0 || c.Safety.DrawdownLimitPct <= 0 {
		return fmt.Errorf("loss and drawdown limits must be positive")
	}

	if c.Safety.MaxTradesPerHour < 1 || c.Safety.MaxTradesPerDay < c.Safety.MaxTradesPerHour {
		return fmt.Errorf("trade caps invalid: hourly=%d daily=%d", c.Safety.MaxTradesPerHour, c.Safety.MaxTradesPerDay)
	}

	if c.Safety.InitialCapital <= 0 {
		return fmt.Errorf("SAFETY_INITIAL_CAPITAL must be positive, got %v", c.Safety.InitialCapital)
	}

	// Селектор
	if c.Selector.MaxActivePairs < 1 {
		return fmt.Errorf("SELECTOR_MAX_ACTIVE_PAIRS must be at least 1, got %d", c.Selector.MaxActivePairs)
	}

	if c.Selector.MaxCorrelation <= 0 || c.Selector.MaxCorrelation > 1 {
		return fmt.Errorf("SELECTOR_MAX_CORRELATION must be in (0, 1], got %v", c.Selector.MaxCorrelation)
	}

	if c.Selector.RebalanceInterval <= 0 || c.Selector.FetchTimeout <= 0 {
		return fmt.Errorf("selector interval and fetch timeout must be positive")
	}

	if c.Selector.LookbackCandles < 15 {
		return fmt.Errorf("SELECTOR_LOOKBACK_CANDLES must be at least 15 for ATR(14), got %d", c.Selector.LookbackCandles)
	}

	if len(c.Selector.Candidates) == 0 {
		return fmt.Errorf("SELECTOR_CANDIDATES must not be empty")
	}

	// Гейт
	if c.Gate.Workers < 1 || c.Gate.QueueSize < 1 {
		return fmt.Errorf("GATE_WORKERS and GATE_QUEUE_SIZE must be positive")
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Addr возвращает адрес для http.Server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice читает список через запятую, пустые элементы отбрасываются
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
