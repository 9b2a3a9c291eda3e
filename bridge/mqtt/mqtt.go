// Package mqtt connects a uDMX to an MQTT broker. It publishes the device
// status and the channels that changed between transmitted frames, and
// accepts channel writes on <topic>/set.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ardnew/udmx/firmware"
	"github.com/ardnew/udmx/pkg"
)

// Topic suffixes.
const (
	TopicStatus = "/status"
	TopicFrame  = "/frame"
	TopicSet    = "/set"
)

// Options configures a Bridge.
type Options struct {
	Server   string
	Port     string
	ClientID string
	User     string
	Password string
	Topic    string
	QoS      byte

	// Interval is how often status and frame changes are published.
	Interval time.Duration
}

// ChannelValue is one entry of a frame or set payload.
type ChannelValue struct {
	Channel uint16 `json:"channel"`
	Value   uint16 `json:"value"`
}

// Status is the payload published on <topic>/status.
type Status struct {
	DMXState  string `json:"dmx_state"`
	USBState  string `json:"usb_state"`
	PacketLen int    `json:"packet_len"`
	KeepAlive uint16 `json:"keep_alive"`
	Frames    uint64 `json:"frames"`
}

// Bridge publishes device state to MQTT and applies remote channel sets
// through the command handler, so they are validated like USB requests.
type Bridge struct {
	opts    Options
	handler *firmware.Handler
	client  mqtt.Client

	mutex     sync.Mutex
	latest    []byte
	published [firmware.NumChannels]byte
	pubLen    int
	frames    uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a bridge for the device behind h.
func New(opts Options, h *firmware.Handler) *Bridge {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	return &Bridge{opts: opts, handler: h}
}

// Start connects to the broker, subscribes to <topic>/set and starts
// publishing.
func (b *Bridge) Start(ctx context.Context) error {
	o := b.opts
	copts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%s", o.Server, o.Port)).
		SetClientID(o.ClientID).
		SetUsername(o.User).
		SetPassword(o.Password).
		SetOnConnectHandler(b.connectHandler).
		SetConnectionLostHandler(b.connectLostHandler).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	b.client = mqtt.NewClient(copts)
	token := b.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return pkg.Wrapf(err, "connect %s:%s", o.Server, o.Port)
		}
	case <-ctx.Done():
		return pkg.Wrap(ctx.Err(), "connect")
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go b.publishLoop(b.ctx)
	return nil
}

// Stop ends publishing and disconnects.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
		b.wg.Wait()
		b.cancel = nil
	}
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(500)
	}
}

func (b *Bridge) connectHandler(c mqtt.Client) {
	pkg.LogInfo(pkg.ComponentMQTT, "client connected to server")
	topic := b.opts.Topic + TopicSet
	token := c.Subscribe(topic, b.opts.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		if err := b.ApplySet(msg.Payload()); err != nil {
			pkg.LogWarn(pkg.ComponentMQTT, "set rejected", "topic", msg.Topic(), "error", err)
		}
	})
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			pkg.LogError(pkg.ComponentMQTT, "subscription failed", "topic", topic, "error", err)
			return
		}
		pkg.LogDebug(pkg.ComponentMQTT, "subscribed", "topic", topic)
	}()
}

func (b *Bridge) connectLostHandler(_ mqtt.Client, err error) {
	pkg.LogError(pkg.ComponentMQTT, "server connection lost", "error", err)
}

// ApplySet decodes a JSON list of channel values and runs each through the
// command handler as a SetSingleChannel request. Entries after a rejected
// one are still applied; the first rejection is returned.
func (b *Bridge) ApplySet(payload []byte) error {
	var values []ChannelValue
	if err := json.Unmarshal(payload, &values); err != nil {
		return pkg.Wrap(err, "decode set payload")
	}
	var first error
	for _, v := range values {
		if err := b.handler.SetChannel(v.Channel, v.Value); err != nil && first == nil {
			first = pkg.Wrapf(err, "channel %d", v.Channel)
		}
	}
	return first
}

// Frame records a transmitted frame. It is a firmware.Sequencer OnFrame
// hook and never blocks.
func (b *Bridge) Frame(f firmware.Frame) {
	b.mutex.Lock()
	b.latest = f.Data
	b.frames++
	b.mutex.Unlock()
}

// Changes returns the channels of the latest frame that differ from the
// last published one and marks them published.
func (b *Bridge) Changes() []ChannelValue {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	var out []ChannelValue
	n := len(b.latest)
	for i := 0; i < n; i++ {
		if i >= b.pubLen || b.latest[i] != b.published[i] {
			out = append(out, ChannelValue{Channel: uint16(i), Value: uint16(b.latest[i])})
			b.published[i] = b.latest[i]
		}
	}
	if n > b.pubLen {
		b.pubLen = n
	}
	return out
}

// Status returns the current status payload.
func (b *Bridge) Status() Status {
	snap := b.handler.Context().Snapshot()
	b.mutex.Lock()
	frames := b.frames
	b.mutex.Unlock()
	return Status{
		DMXState:  snap.DMXState.String(),
		USBState:  snap.USBState.String(),
		PacketLen: snap.PacketLen,
		KeepAlive: snap.KeepAlive,
		Frames:    frames,
	}
}

func (b *Bridge) publishLoop(ctx context.Context) {
	defer b.wg.Done()

	tick := time.NewTicker(b.opts.Interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			b.publish(TopicStatus, b.Status())
			if changes := b.Changes(); len(changes) > 0 {
				b.publish(TopicFrame, changes)
			}
		}
	}
}

func (b *Bridge) publish(suffix string, v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		pkg.LogError(pkg.ComponentMQTT, "encode payload", "error", err)
		return
	}
	topic := b.opts.Topic + suffix
	token := b.client.Publish(topic, b.opts.QoS, false, msg)
	go func() {
		select {
		case <-b.ctx.Done():
		case <-token.Done():
			if err := token.Error(); err != nil {
				pkg.LogWarn(pkg.ComponentMQTT, "publish failed", "topic", topic, "error", err)
			}
		}
	}()
}
