package realtimesvc

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/chat"
)

// NATSBroker fans broadcasts out over NATS subjects, one per room, so every
// connected node delivers to its own subscribers.
type NATSBroker struct {
	nc     *nats.Conn
	logger core.Logger
}

var _ chat.Broker = (*NATSBroker)(nil)

func NewNATSBroker(url string, logger core.Logger) (*NATSBroker, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to NATS")
	}
	return &NATSBroker{nc: nc, logger: logger}, nil
}

func (b *NATSBroker) Publish(roomID string, bc chat.Broadcast) error {
	data, err := json.Marshal(bc)
	if err != nil {
		return errors.Wrap(err, "marshaling broadcast")
	}
	if err = b.nc.Publish(roomSubject(roomID), data); err != nil {
		return errors.Wrap(err, "publishing broadcast")
	}
	return nil
}

func (b *NATSBroker) Subscribe(roomID string, fn func(chat.Broadcast)) (chat.Subscription, error) {
	sub, err := b.nc.Subscribe(roomSubject(roomID), func(msg *nats.Msg) {
		var bc chat.Broadcast
		if err := json.Unmarshal(msg.Data, &bc); err != nil {
			b.logger.Error("realtime: dropping malformed broadcast", err)
			return
		}
		fn(bc)
	})
	if err != nil {
		return nil, errors.Wrap(err, "subscribing to room subject")
	}
	return &natsSub{sub: sub}, nil
}

func (b *NATSBroker) Close() {
	_ = b.nc.Drain()
}

type natsSub struct {
	once sync.Once
	sub  *nats.Subscription
}

func (s *natsSub) Unsubscribe() error {
	var err error
	s.once.Do(func() { err = s.sub.Unsubscribe() })
	return err
}
