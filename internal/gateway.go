package internal

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/pgillich/reservation-gateway/internal/broker"
	"github.com/pgillich/reservation-gateway/internal/cache"
	"github.com/pgillich/reservation-gateway/internal/correlation"
	"github.com/pgillich/reservation-gateway/internal/handler"
	"github.com/pgillich/reservation-gateway/internal/logger"
	"github.com/pgillich/reservation-gateway/internal/middleware"
	"github.com/pgillich/reservation-gateway/internal/middleware/server"
	"github.com/pgillich/reservation-gateway/internal/model"
	"github.com/pgillich/reservation-gateway/internal/router"
	"github.com/pgillich/reservation-gateway/internal/tracing"
)

const tracerName = "github.com/pgillich/reservation-gateway"

type GatewayConfig struct {
	BrokerConfig  `mapstructure:",squash"`
	TracingConfig `mapstructure:",squash"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Instance string `mapstructure:"instance"`
	Command  string `mapstructure:"command"`

	CacheURL  string        `mapstructure:"cacheURL"`
	ResultTTL time.Duration `mapstructure:"resultTTL"`
	InfoPath  string        `mapstructure:"infoPath"`

	WaitAttempts int           `mapstructure:"waitAttempts"`
	WaitDelay    time.Duration `mapstructure:"waitDelay"`
	MaxPending   int64         `mapstructure:"maxPending"`
}

func (c GatewayConfig) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type Gateway struct {
	config       GatewayConfig
	serverRunner model.ServerRunner
	log          logr.Logger
	ctx          context.Context //nolint:containedctx // service lifetime
}

func NewGatewayService(ctx context.Context, cfg interface{}, log logr.Logger) model.Service {
	if config, is := cfg.(*GatewayConfig); !is {
		log.Error(logger.ErrInvalidConfig, "config type")
		panic(logger.ErrInvalidConfig)
	} else if serverRunner, is := ctx.Value(model.CtxKeyServerRunner).(model.ServerRunner); !is {
		log.Error(ErrInvalidServerRunner, "server runner config")
		panic(ErrInvalidServerRunner)
	} else {
		return &Gateway{
			config:       *config,
			serverRunner: serverRunner,
			log:          log,
			ctx:          ctx,
		}
	}
}

func (s *Gateway) Run(args []string) error {
	s.log = s.log.WithValues("args", args, "instance", s.config.Instance)
	s.log.Info("Gateway start")
	ctx := logger.NewContext(s.ctx, s.log)

	exporter, err := tracing.NewExporter(s.config.JaegerURL, s.config.OtlpURL)
	if err != nil {
		s.log.Error(err, "Unable to create span exporter")

		return err
	}
	tp := tracing.InitTracer(exporter, sdktrace.AlwaysSample(), "gateway", s.config.Instance, s.config.Command, s.log)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			s.log.Error(err, "Unable to shut down tracer provider")
		}
	}()
	tr := tp.Tracer(tracerName, trace.WithInstrumentationVersion(tracing.SemVersion()))
	meter := middleware.GetMeter(s.log)

	brokerClient := broker.NewClient(s.config.ClientConfig("gateway-"+s.config.Instance, "gateway"), s.log.WithName("broker"))
	defer func() {
		if err := brokerClient.CloseConnection(); err != nil {
			s.log.Error(err, "Unable to close broker connection")
		}
	}()

	reader := cache.NewClient(cache.Config{URL: s.config.CacheURL}, s.log.WithName("cacheReader"))
	writer := cache.NewClient(cache.Config{URL: s.config.CacheURL, ResultTTL: s.config.ResultTTL}, s.log.WithName("cacheWriter"))
	for _, c := range []*cache.Client{reader, writer} {
		_ = c.Connect(ctx) //nolint:errcheck // logged by the client
		defer c.Disconnect() //nolint:errcheck // logged by the client
	}

	registry := correlation.NewRegistry()
	reader.OnMessage(func(_ string, id string) {
		if !registry.Notify(id) {
			s.log.V(1).Info("Result of unknown reservation", logger.KeyReservationID, id)
		}
	})
	go reader.KeepSubscribed(ctx, cache.DataAvailableChannel, s.config.ReconnectInterval)

	reservationRouter := router.New(brokerClient, writer, tr, meter, s.log.WithName("router"))
	reservationRouter.Start(ctx)
	defer reservationRouter.Stop()

	h := handler.New(handler.Config{
		WaitAttempts: s.config.WaitAttempts,
		WaitDelay:    s.config.WaitDelay,
		MaxPending:   s.config.MaxPending,
		InfoPath:     s.config.InfoPath,
	}, reservationRouter, reader, registry, tr, meter, s.log.WithName("handler"))

	r := chi.NewRouter()
	r.Use(chi_middleware.RequestID)
	r.Use(chi_middleware.RequestLogger(&logger.ChiLogr{Logger: s.log}))
	r.Use(chi_middleware.Recoverer)
	r.Use(server.ChiMetricMiddleware(meter, "http_in", "Incoming HTTP requests", map[string]string{}, s.log))
	r.Handle("/metrics", promhttp.Handler())
	h.Routes(r)

	s.serverRunner(otelhttp.NewHandler(r, "gateway", otelhttp.WithTracerProvider(tp)), ctx.Done(), s.config.ListenAddr(), s.log)
	s.log.Info("Gateway exit")

	return nil
}
