package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	"plantwatch-backend/internal/monitor"
)

const SubjectPrefix = "plant."

// Publisher sends engine events to NATS under plant.<event type>.
type Publisher struct {
	Conn *nats.Conn
}

var _ monitor.Publisher = (*Publisher)(nil)

func NewPublisher(url, name string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn}, nil
}

func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

func Subject(eventType string) string {
	return SubjectPrefix + eventType
}

func (p *Publisher) Publish(ctx context.Context, evt monitor.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.Conn == nil {
		return errors.New("nats connection not initialised")
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(Subject(evt.Type))
	msg.Data = data
	msg.Header.Set("Plant-Id", evt.PlantID)
	if evt.MachineID != "" {
		msg.Header.Set("Machine-Id", evt.MachineID)
	}
	return p.Conn.PublishMsg(msg)
}
