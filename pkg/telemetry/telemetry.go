// Package telemetry publishes pipeline status records to an MQTT broker.
//
// Publishing never blocks the pipeline: the newest status is parked in a slot
// and a background loop sends it. Broker failures are logged and dropped.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/itohio/lumen/pkg/config"
	"github.com/itohio/lumen/pkg/handoff"
	"github.com/itohio/lumen/pkg/pipeline"
)

const (
	keepAlive      = 30
	publishTimeout = 2 * time.Second
	contentType    = "application/json"
)

// Message is the JSON form of a pipeline.Status.
type Message struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Raw       uint16    `json:"raw"`
	Mean      int       `json:"mean"`
	Tolerance int       `json:"tolerance"`
	Count     int       `json:"count"`
	Filtered  int       `json:"filtered"`
	Mode      string    `json:"mode,omitempty"`
	Reference int       `json:"reference,omitempty"`
	Luminance int       `json:"luminance,omitempty"`
	Level     int       `json:"level"`
	PeriodUS  int64     `json:"period_us"`
	PulseUS   int64     `json:"pulse_us"`
	Duty      float64   `json:"duty"`
	Err       string    `json:"err,omitempty"`
}

// NewMessage converts s.
func NewMessage(s pipeline.Status) Message {
	m := Message{
		Seq:       s.Seq,
		Timestamp: s.Timestamp,
		Raw:       s.Raw,
		Mean:      s.Mean,
		Tolerance: s.Tolerance,
		Count:     s.Count,
		Filtered:  s.Filtered,
		Mode:      s.Mode,
		Reference: s.Reference,
		Luminance: s.Luminance,
		Level:     s.Level,
		PeriodUS:  s.Period.Microseconds(),
		PulseUS:   s.Pulse.Microseconds(),
		Duty:      s.Duty(),
	}
	if s.Err != nil {
		m.Err = s.Err.Error()
	}
	return m
}

// Encode returns the JSON payload for s.
func Encode(s pipeline.Status) ([]byte, error) {
	return json.Marshal(NewMessage(s))
}

// BrokerAddress turns a broker URL (mqtt://host:port, tcp://host:port or a
// bare host:port) into a dialable TCP address.
func BrokerAddress(broker string) (string, error) {
	if broker == "" {
		return "", errors.New("empty broker address")
	}

	u, err := url.Parse(broker)
	if err != nil || u.Host == "" {
		// host:port parses as scheme "host" with an opaque port
		if _, _, splitErr := net.SplitHostPort(broker); splitErr == nil {
			return broker, nil
		}
		return "", fmt.Errorf("invalid broker address %q", broker)
	}

	switch u.Scheme {
	case "mqtt", "tcp":
	default:
		return "", fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
	if u.Port() == "" {
		return net.JoinHostPort(u.Hostname(), "1883"), nil
	}
	return u.Host, nil
}

// Publisher sends status records to one MQTT topic.
type Publisher struct {
	address  string
	topic    string
	clientID string
	logger   *slog.Logger

	pending *handoff.Slot[pipeline.Status]
}

// New creates a publisher from the telemetry configuration. The client ID is
// the configured prefix followed by a random UUID.
func New(cfg config.TelemetryConfig, logger *slog.Logger) (*Publisher, error) {
	address, err := BrokerAddress(cfg.Broker)
	if err != nil {
		return nil, err
	}
	if cfg.Topic == "" {
		return nil, errors.New("empty telemetry topic")
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientID := uuid.NewString()
	if cfg.ClientPrefix != "" {
		clientID = cfg.ClientPrefix + "-" + clientID
	}

	return &Publisher{
		address:  address,
		topic:    cfg.Topic,
		clientID: clientID,
		logger:   logger.With("component", "telemetry", "client_id", clientID),
		pending:  handoff.NewSlot[pipeline.Status](),
	}, nil
}

// ClientID returns the MQTT client identifier.
func (p *Publisher) ClientID() string {
	return p.clientID
}

// Publish queues s for sending. It never blocks; an unsent status is
// replaced by the newer one.
func (p *Publisher) Publish(s pipeline.Status) {
	if !p.pending.Publish(s) {
		p.logger.Debug("status replaced before it was sent", "seq", s.Seq)
	}
}

// Run connects to the broker and sends queued statuses until ctx is done.
// Only a failed connection is returned; publish errors are logged.
func (p *Publisher) Run(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	client := paho.NewClient(paho.ClientConfig{
		ClientID: p.clientID,
		Conn:     conn,
		OnClientError: func(err error) {
			p.logger.Warn("client error", "err", err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			p.logger.Warn("server disconnected", "reason", d.ReasonCode)
		},
	})

	ack, err := client.Connect(ctx, &paho.Connect{
		ClientID:   p.clientID,
		KeepAlive:  keepAlive,
		CleanStart: true,
	})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("telemetry: connect %s: %w", p.address, err)
	}
	if ack.ReasonCode != 0 {
		_ = conn.Close()
		return fmt.Errorf("telemetry: connect %s: reason code %d", p.address, ack.ReasonCode)
	}
	p.logger.Info("connected", "broker", p.address, "topic", p.topic)

	defer func() {
		if err := client.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
			p.logger.Debug("disconnect failed", "err", err)
		}
		p.logger.Info("disconnected")
	}()

	for {
		s, err := p.pending.Receive(ctx)
		if err != nil {
			if errors.Is(err, handoff.ErrClosed) {
				return nil
			}
			return fmt.Errorf("telemetry: %w", err)
		}
		p.send(ctx, client, s)
	}
}

// Close stops Run after the pending status, if any, has been sent.
func (p *Publisher) Close() {
	p.pending.Close()
}

func (p *Publisher) send(ctx context.Context, client *paho.Client, s pipeline.Status) {
	payload, err := Encode(s)
	if err != nil {
		p.logger.Warn("encode failed", "seq", s.Seq, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	_, err = client.Publish(ctx, &paho.Publish{
		QoS:     0,
		Topic:   p.topic,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType: contentType,
		},
	})
	if err != nil {
		p.logger.Warn("publish failed", "seq", s.Seq, "err", err)
		return
	}
	p.logger.Debug("published", "seq", s.Seq, "bytes", len(payload))
}
