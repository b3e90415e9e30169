package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"riskgate/internal/api/handlers"
	"riskgate/internal/api/middleware"
	"riskgate/internal/service"
	"riskgate/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
//
// Компоненты, выключенные конфигурацией (нет БД, нет WebSocket),
// оставляются nil: соответствующие маршруты не регистрируются.
type Dependencies struct {
	Filters  handlers.FilterStats
	Safety   handlers.SafetyStatusSource
	Universe handlers.UniverseSource

	BlacklistService service.BlacklistServiceInterface
	JournalService   service.JournalServiceInterface
	Stats            handlers.StatsSources

	// Доступ оператора. Tokens == nil - мутирующие маршруты отвечают 503.
	SecretHash string
	Tokens     interface {
		handlers.TokenIssuer
		middleware.TokenVerifier
	}

	Stream         http.Handler // /ws/stream
	AllowedOrigins []string
	Logger         *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
//	/health                         liveness
//	/metrics                        Prometheus
//	/ws/stream                      решения, активный набор, безопасность
//	/api/v1/
//	├── POST   /auth/token              секрет оператора -> JWT
//	├── GET    /stats
//	├── GET    /filters/summary
//	├── POST   /filters/reset           (auth)
//	├── GET    /safety/status
//	├── GET    /universe
//	├── GET    /decisions?symbol=&limit=
//	├── GET    /decisions/{id}
//	├── GET    /outcomes/summary?since=
//	├── GET    /blacklist
//	├── POST   /blacklist               (auth)
//	├── PATCH  /blacklist/{symbol}      (auth)
//	└── DELETE /blacklist/{symbol}      (auth)
//
// Middleware: Recovery -> Logging -> CORS для всех маршрутов,
// Auth только для мутирующих.
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = utils.L()
	}

	router := mux.NewRouter()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	var verifier middleware.TokenVerifier
	var issuer handlers.TokenIssuer
	if deps.Tokens != nil {
		verifier = deps.Tokens
		issuer = deps.Tokens
	}
	auth := middleware.Auth(verifier)
	protected := func(h http.HandlerFunc) http.Handler { return auth(h) }

	api := router.PathPrefix("/api/v1").Subrouter()

	authHandler := handlers.NewAuthHandler(deps.SecretHash, issuer, logger)
	api.HandleFunc("/auth/token", authHandler.IssueToken).Methods(http.MethodPost)

	statsHandler := handlers.NewStatsHandler(deps.Stats)
	api.HandleFunc("/stats", statsHandler.GetStats).Methods(http.MethodGet)

	// Телеметрия ядра
	if deps.Filters != nil && deps.Safety != nil && deps.Universe != nil {
		telemetry := handlers.NewTelemetryHandler(deps.Filters, deps.Safety, deps.Universe)
		api.HandleFunc("/filters/summary", telemetry.GetFilterSummary).Methods(http.MethodGet)
		api.Handle("/filters/reset", protected(telemetry.ResetFilters)).Methods(http.MethodPost)
		api.HandleFunc("/safety/status", telemetry.GetSafetyStatus).Methods(http.MethodGet)
		api.HandleFunc("/universe", telemetry.GetUniverse).Methods(http.MethodGet)
	}

	// Журнал решений
	if deps.JournalService != nil {
		journal := handlers.NewJournalHandler(deps.JournalService)
		api.HandleFunc("/decisions", journal.GetDecisions).Methods(http.MethodGet)
		api.HandleFunc("/decisions/{id}", journal.GetDecision).Methods(http.MethodGet)
		api.HandleFunc("/outcomes/summary", journal.GetOutcomeSummary).Methods(http.MethodGet)
	}

	// Черный список
	if deps.BlacklistService != nil {
		blacklist := handlers.NewBlacklistHandler(deps.BlacklistService, logger)
		api.HandleFunc("/blacklist", blacklist.GetBlacklist).Methods(http.MethodGet)
		api.Handle("/blacklist", protected(blacklist.AddToBlacklist)).Methods(http.MethodPost)
		api.Handle("/blacklist/{symbol}", protected(blacklist.UpdateReason)).Methods(http.MethodPatch)
		api.Handle("/blacklist/{symbol}", protected(blacklist.RemoveFromBlacklist)).Methods(http.MethodDelete)
	}

	// CORS preflight для всех маршрутов API. MatcherFunc вместо Methods:
	// иначе mux отвечает 405 на любой незарегистрированный путь.
	preflight := func(r *http.Request, _ *mux.RouteMatch) bool { return r.Method == http.MethodOptions }
	api.PathPrefix("/").MatcherFunc(preflight).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if deps.Stream != nil {
		router.Handle("/ws/stream", deps.Stream).Methods(http.MethodGet)
	}

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	return router
}
