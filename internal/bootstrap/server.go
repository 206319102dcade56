package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/Domenick1991/bookingcore/api"
	"github.com/Domenick1991/bookingcore/config"
	fulfillmentapi "github.com/Domenick1991/bookingcore/internal/api/fulfillment_service_api"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"
	"google.golang.org/grpc"
)

const swaggerDocPath = "/swagger/fulfillment.swagger.json"

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Servers struct {
	grpcServer *grpc.Server
	httpServer *http.Server
	logger     *logrus.Logger
}

// Run starts the gRPC and HTTP (gin API + swagger + metrics) servers and
// blocks until ctx is canceled or a server fails.
func Run(ctx context.Context, cfg *config.Config, svc api.Services, checks map[string]HealthCheck, logger *logrus.Logger) error {
	s := NewServers(cfg, svc, checks, logger)

	errCh := make(chan error, 2)

	lis, err := net.Listen("tcp", cfg.GRPC.Address)
	if err != nil {
		return fmt.Errorf("listen gRPC %s: %w", cfg.GRPC.Address, err)
	}
	go func() { errCh <- s.grpcServer.Serve(lis) }()

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.WithFields(logrus.Fields{"http": cfg.HTTP.Address, "grpc": cfg.GRPC.Address}).Info("servers started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		s.grpcServer.GracefulStop()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		logger.Info("servers stopped")
		return nil
	}
}

func NewServers(cfg *config.Config, svc api.Services, checks map[string]HealthCheck, logger *logrus.Logger) *Servers {
	grpcSrv := grpc.NewServer(grpc.ChainUnaryInterceptor(unaryLogger(logger)))
	if svc.Matcher != nil {
		fulfillmentapi.Register(grpcSrv, fulfillmentapi.NewServer(svc.Matcher))
	}

	return &Servers{
		grpcServer: grpcSrv,
		httpServer: &http.Server{
			Addr:         cfg.HTTP.Address,
			Handler:      NewHTTPHandler(cfg, svc, checks, logger),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		},
		logger: logger,
	}
}

// NewHTTPHandler adds the operational endpoints to the API router.
func NewHTTPHandler(cfg *config.Config, svc api.Services, checks map[string]HealthCheck, logger *logrus.Logger) *gin.Engine {
	router := api.NewRouter(svc, logger, cors.New(corsConfig(cfg.HTTP.CORSAllowedOrigins)))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", healthz(checks))

	if cfg.HTTP.SwaggerDir != "" {
		router.StaticFile(swaggerDocPath, filepath.Join(cfg.HTTP.SwaggerDir, "fulfillment.swagger.json"))
		router.GET("/docs/*any", gin.WrapH(httpSwagger.Handler(httpSwagger.URL(swaggerDocPath))))
	}
	return router
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	}
	c.AddAllowHeaders("Authorization", "Idempotency-Key")
	c.AddExposeHeaders("Content-Length")
	return c
}

func healthz(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		report := gin.H{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				report[name] = err.Error()
				continue
			}
			report[name] = "ok"
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "checks": report})
	}
}

func unaryLogger(logger *logrus.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		entry := logger.WithFields(logrus.Fields{
			"method":   info.FullMethod,
			"duration": time.Since(start).String(),
		})
		if err != nil {
			entry.WithError(err).Warn("grpc call failed")
		} else {
			entry.Debug("grpc call handled")
		}
		return resp, err
	}
}
