package internal

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/pgillich/reservation-gateway/internal/broker"
	"github.com/pgillich/reservation-gateway/internal/logger"
	"github.com/pgillich/reservation-gateway/internal/middleware"
	"github.com/pgillich/reservation-gateway/internal/model"
	"github.com/pgillich/reservation-gateway/internal/router"
	"github.com/pgillich/reservation-gateway/internal/simulator"
	"github.com/pgillich/reservation-gateway/internal/tracing"
)

type WorkerConfig struct {
	BrokerConfig  `mapstructure:",squash"`
	TracingConfig `mapstructure:",squash"`

	Instance string `mapstructure:"instance"`
	Command  string `mapstructure:"command"`

	MaxPartySize int           `mapstructure:"maxPartySize"`
	Delay        time.Duration `mapstructure:"delay"`
}

// Worker simulates the worker tier: it consumes the priority queues and publishes results
type Worker struct {
	config WorkerConfig
	log    logr.Logger
	ctx    context.Context //nolint:containedctx // service lifetime
}

func NewWorkerService(ctx context.Context, cfg interface{}, log logr.Logger) model.Service {
	if config, is := cfg.(*WorkerConfig); !is {
		log.Error(logger.ErrInvalidConfig, "config type")
		panic(logger.ErrInvalidConfig)
	} else {
		return &Worker{
			config: *config,
			log:    log,
			ctx:    ctx,
		}
	}
}

func (s *Worker) Run(args []string) error {
	s.log = s.log.WithValues("args", args, "instance", s.config.Instance)
	s.log.Info("Worker start")
	ctx := logger.NewContext(s.ctx, s.log)

	exporter, err := tracing.NewExporter(s.config.JaegerURL, s.config.OtlpURL)
	if err != nil {
		s.log.Error(err, "Unable to create span exporter")

		return err
	}
	tp := tracing.InitTracer(exporter, sdktrace.AlwaysSample(), "worker", s.config.Instance, s.config.Command, s.log)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			s.log.Error(err, "Unable to shut down tracer provider")
		}
	}()
	tr := tp.Tracer(tracerName, trace.WithInstrumentationVersion(tracing.SemVersion()))

	brokerClient := broker.NewClient(s.config.ClientConfig("worker-"+s.config.Instance, "worker"), s.log.WithName("broker"))
	sim := simulator.New(simulator.Config{
		MaxPartySize: s.config.MaxPartySize,
		Delay:        s.config.Delay,
	}, brokerClient, tr, middleware.GetMeter(s.log), s.log.WithName("simulator"))

	wg := sync.WaitGroup{}
	for _, queue := range router.PriorityQueues() {
		wg.Add(1)
		go func(queue string) {
			defer wg.Done()
			brokerClient.SubscribeWithReconnect(ctx, queue, sim.Handle)
		}(queue)
	}

	<-ctx.Done()
	brokerClient.StopReconnecting()
	wg.Wait()
	if err := brokerClient.CloseConnection(); err != nil {
		s.log.Error(err, "Unable to close broker connection")
	}
	s.log.Info("Worker exit")

	return nil
}
