package realtimesvc

import (
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/pkg/errors"
)

// StartEmbeddedServer runs an in-process NATS server, for dev and tests where
// no external broker is available. Port 0 picks a random free port; the
// returned URL is what clients should connect to.
func StartEmbeddedServer(port int) (*natsserver.Server, string, error) {
	if port == 0 {
		port = natsserver.RANDOM_PORT
	}
	srv, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, "", errors.Wrap(err, "creating embedded NATS server")
	}

	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		return nil, "", errors.New("embedded NATS server not ready")
	}
	return srv, srv.ClientURL(), nil
}
