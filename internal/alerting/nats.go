package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSOptions configure the NATS notifier.
type NATSOptions struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NATSNotifier publishes each event to one subject.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

type natsEnvelope struct {
	Text  string `json:"text"`
	Event Event  `json:"event"`
}

// NewNATSNotifier connects to the server. A failed connection is a startup error.
func NewNATSNotifier(opts NATSOptions, logger zerolog.Logger) (*NATSNotifier, error) {
	if opts.Subject == "" {
		return nil, errors.New("nats subject is required")
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = -1
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	log := logger.With().Str("component", "alert_nats").Logger()

	conn, err := nats.Connect(opts.URL,
		nats.Name("marketwatch"),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	log.Info().Str("server", conn.ConnectedUrl()).Str("subject", opts.Subject).Msg("nats destination resolved")
	return &NATSNotifier{conn: conn, subject: opts.Subject, logger: log}, nil
}

// Notify publishes ev as JSON.
func (n *NATSNotifier) Notify(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeNATS(ev)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish nats message: %w", err)
	}
	n.logger.Info().Str("kind", string(ev.Kind)).Str("asset", ev.AssetID).Msg("alert sent (nats)")
	return nil
}

// Close drains the connection.
func (n *NATSNotifier) Close() {
	if n.conn != nil && !n.conn.IsClosed() {
		if err := n.conn.Drain(); err != nil {
			n.conn.Close()
		}
	}
}

func encodeNATS(ev Event) ([]byte, error) {
	data, err := json.Marshal(natsEnvelope{Text: RenderPlain(ev), Event: ev})
	if err != nil {
		return nil, fmt.Errorf("marshal nats payload: %w", err)
	}
	return data, nil
}

var _ Notifier = (*NATSNotifier)(nil)
