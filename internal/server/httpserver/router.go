package httpserver

import (
	"net/http"

	"github.com/yndnr/snapmesh-go/internal/server/clusterserver"
	"github.com/yndnr/snapmesh-go/internal/server/httpserver/handler"
	"github.com/yndnr/snapmesh-go/internal/telemetry/logger"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Node replicates writes and answers reads.
	Node clusterserver.Node

	// Checkpointer serves POST /admin/v1/checkpoints. Nil disables it.
	Checkpointer handler.Checkpointer

	// Metrics serves GET /metrics when set.
	Metrics http.Handler

	// Logger for request logging.
	Logger logger.Logger

	// RateLimit is the per-client rate in requests per second (0 = off).
	RateLimit float64
	Burst     int

	// AdminAllowList is the IP/CIDR allowlist for /admin/ (empty = no restriction).
	AdminAllowList []string
}

// NewRouter creates the HTTP router with all routes and middleware.
//
// Order: Recover -> RequestID -> Logging -> RateLimit -> routes.
// Admin routes additionally pass the network ACL.
func NewRouter(cfg *RouterConfig) http.Handler {
	l := cfg.Logger
	if l == nil {
		l = logger.Default()
	}

	h := handler.New(cfg.Node, cfg.Checkpointer, l)

	mux := http.NewServeMux()
	mux.Handle("/", h)
	mux.Handle("/admin/", Chain(h, NetworkACL(cfg.AdminAllowList, l)))
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	return Chain(mux,
		Recover(l),
		RequestID(),
		Logging(l),
		RateLimit(cfg.RateLimit, cfg.Burst),
	)
}
