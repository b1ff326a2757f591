package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/sumobot/internal/monitoring"
	"github.com/banshee-data/sumobot/internal/robot"
	"github.com/banshee-data/sumobot/internal/timeutil"
)

const (
	// DefaultPrefix is the first topic level.
	DefaultPrefix = "sumobot"
	// DefaultPeriod is the publish interval.
	DefaultPeriod = time.Second
	// DefaultPublishTimeout bounds the wait for each publish.
	DefaultPublishTimeout = 2 * time.Second
)

var (
	errNotConnected = errors.New("MQTT client not connected")
	errTimeout      = errors.New("MQTT operation timed out")
)

// Handler handles a command payload and returns the encoded reply.
type Handler interface {
	HandleJSON(payload []byte) []byte
}

// Config configures a Publisher.
type Config struct {
	Client Client
	Prefix string
	// Name returns the current robot name; the topic follows renames.
	Name func() string
	// Source returns the telemetry to publish.
	Source func() robot.Telemetry
	// Commands, when set, receives payloads published to the command topic.
	// Replies go to the reply topic.
	Commands Handler

	Period         time.Duration
	PublishTimeout time.Duration
	Clock          timeutil.Clock
	Logf           func(format string, args ...interface{})
}

// Publisher periodically publishes telemetry.
type Publisher struct {
	cfg  Config
	logf func(format string, args ...interface{})

	lastErr string
}

// NewPublisher creates a Publisher, applying defaults to unset fields.
func NewPublisher(cfg Config) *Publisher {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Publisher{cfg: cfg, logf: monitoring.Or(cfg.Logf)}
}

// Run publishes every period until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	if p.cfg.Commands != nil {
		topic := p.topic("command")
		if err := p.wait(p.cfg.Client.Subscribe(topic, 1, p.onCommand)); err != nil {
			p.logf("telemetry: failed to subscribe to %s: %v", topic, err)
		} else {
			defer p.cfg.Client.Unsubscribe(topic)
		}
	}

	ticker := p.cfg.Clock.NewTicker(p.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			p.PublishOnce()
		}
	}
}

// PublishOnce publishes the current telemetry. Failures are logged once per
// distinct error.
func (p *Publisher) PublishOnce() {
	if !p.cfg.Client.IsConnectionOpen() {
		p.report(errNotConnected)
		return
	}
	payload, err := json.Marshal(p.cfg.Source())
	if err != nil {
		p.report(err)
		return
	}
	p.report(p.wait(p.cfg.Client.Publish(p.topic("telemetry"), 0, false, payload)))
}

// onCommand runs on the client's delivery goroutine, so it does not wait
// for the reply to be acknowledged.
func (p *Publisher) onCommand(_ mqtt.Client, msg mqtt.Message) {
	reply := p.cfg.Commands.HandleJSON(msg.Payload())
	p.cfg.Client.Publish(p.topic("reply"), 1, false, reply)
}

func (p *Publisher) topic(leaf string) string {
	name := ""
	if p.cfg.Name != nil {
		name = p.cfg.Name()
	}
	return Topic(p.cfg.Prefix, name, leaf)
}

func (p *Publisher) wait(t mqtt.Token) error {
	if !t.WaitTimeout(p.cfg.PublishTimeout) {
		return errTimeout
	}
	return t.Error()
}

func (p *Publisher) report(err error) {
	if err == nil {
		if p.lastErr != "" {
			p.logf("telemetry: publishing resumed")
		}
		p.lastErr = ""
		return
	}
	if msg := err.Error(); msg != p.lastErr {
		p.logf("telemetry: publish failed: %v", err)
		p.lastErr = msg
	}
}
