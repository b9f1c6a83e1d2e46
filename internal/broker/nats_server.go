package broker

import (
	"time"

	"emperror.dev/errors"
	nats_server "github.com/nats-io/nats-server/v2/server"
)

// ServerOptions are JetStream enabled options of an embedded server listening on host:port.
// Port -1 selects a random port.
func ServerOptions(host string, port int, storeDir string) *nats_server.Options {
	return &nats_server.Options{
		Host:      host,
		Port:      port,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  storeDir,
	}
}

// RunServer is an adapted github.com/nats-io/nats-server/v2/test/test.go:RunServerCallback
// Only for testing and local runs
func RunServer(opts *nats_server.Options) (*nats_server.Server, error) {
	s, err := nats_server.NewServer(opts)
	if err != nil {
		return nil, errors.Wrap(err, "no NATS server object returned")
	}

	if !opts.NoLog {
		s.ConfigureLogger()
	}

	go s.Start()

	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()

		return nil, errors.New("unable to start NATS server")
	}

	return s, nil
}
