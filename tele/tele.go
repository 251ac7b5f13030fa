// Package tele publishes boiler telemetry over MQTT: latest parameter
// sets as JSON plus a retained online flag with a matching will.
package tele

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"

	"github.com/bauer-group/hargassner/helpers"
	"github.com/bauer-group/hargassner/log2"
	"github.com/bauer-group/hargassner/parser"
	tele_config "github.com/bauer-group/hargassner/tele/config"
	"github.com/bauer-group/hargassner/telnet"
)

const defaultNetworkTimeout = 30 * time.Second
const defaultTopicPrefix = "hargassner"

type Tele struct {
	log  *log2.Log
	conf tele_config.Config
	m    mqtt.Client
	mopt *mqtt.ClientOptions

	topicPrefix string
	topicOnline string
	topicData   string

	networkTimeout time.Duration

	attached *telnet.Client
	onData   telnet.DataFunc
	onConn   telnet.ConnFunc

	stopCh chan struct{}
}

func New(log *log2.Log, conf tele_config.Config) (*Tele, error) {
	if conf.Broker == "" {
		return nil, errors.NotValidf("config tele.broker")
	}

	self := &Tele{
		log:    log,
		conf:   conf,
		stopCh: make(chan struct{}),
	}

	mqttLog := log.Clone(log2.LDebug)
	mqtt.CRITICAL = mqttLog
	mqtt.ERROR = mqttLog
	mqtt.WARN = mqttLog
	if conf.LogDebug {
		mqtt.DEBUG = mqttLog
	}

	self.topicPrefix = conf.TopicPrefix
	if self.topicPrefix == "" {
		self.topicPrefix = defaultTopicPrefix
	}
	self.topicOnline = fmt.Sprintf("%s/online", self.topicPrefix)
	self.topicData = fmt.Sprintf("%s/data", self.topicPrefix)

	clientID := conf.ClientID
	if clientID == "" {
		clientID = "hargassner-monitor"
	}
	credFun := func() (string, string) {
		return conf.Username, conf.Password
	}

	self.networkTimeout = helpers.IntSecondDefault(conf.NetworkTimeoutSec, defaultNetworkTimeout)
	if self.networkTimeout < 1*time.Second {
		self.networkTimeout = 1 * time.Second
	}
	connectTimeout := self.networkTimeout * 3
	keepaliveTimeout := helpers.IntSecondDefault(conf.KeepaliveSec, self.networkTimeout/2)

	self.mopt = mqtt.NewClientOptions().
		AddBroker(conf.Broker).
		SetAutoReconnect(true).
		SetBinaryWill(self.topicOnline, []byte("false"), 1, true).
		SetCleanSession(true).
		SetClientID(clientID).
		SetConnectTimeout(connectTimeout).
		SetCredentialsProvider(credFun).
		SetKeepAlive(keepaliveTimeout).
		SetMaxReconnectInterval(connectTimeout).
		SetOrderMatters(false).
		SetPingTimeout(self.networkTimeout).
		SetWriteTimeout(self.networkTimeout)
	self.m = mqtt.NewClient(self.mopt)

	return self, nil
}

// Connect blocks until the first broker connection succeeds or Close.
func (self *Tele) Connect() error {
	for self.isRunning() {
		t := self.m.Connect()
		if self.tokenWait(t, "connect") == nil {
			return nil
		}
		select {
		case <-self.stopCh:
		case <-time.After(1 * time.Second):
		}
	}
	return errors.Errorf("tele closed before broker connect")
}

// Attach subscribes to client events. Publishing happens on the client
// callback path, token waits are bounded by network_timeout so a slow
// broker cannot stall the receive loop indefinitely.
func (self *Tele) Attach(c *telnet.Client) {
	self.attached = c
	self.onData = func(params parser.Params) {
		self.sendData(params)
	}
	self.onConn = func(connected bool) {
		self.sendOnline(connected)
	}
	c.RegisterDataFunc(self.onData)
	c.RegisterConnFunc(self.onConn)
}

func (self *Tele) Close() {
	close(self.stopCh)
	if self.attached != nil {
		self.attached.UnregisterDataFunc(self.onData)
		self.attached.UnregisterConnFunc(self.onConn)
		self.attached = nil
	}
	if self.m.IsConnected() {
		t := self.m.Publish(self.topicOnline, 1, true, []byte("false"))
		_ = self.tokenWait(t, "publish offline")
		self.m.Disconnect(uint(self.networkTimeout / time.Millisecond))
	}
}

func (self *Tele) sendData(params parser.Params) {
	payload, err := json.Marshal(params)
	if err != nil {
		self.log.Errorf("tele: marshal params err=%v", err)
		return
	}
	t := self.m.Publish(self.topicData, 1, true, payload)
	_ = self.tokenWait(t, "publish data")
}

func (self *Tele) sendOnline(connected bool) {
	payload := []byte("false")
	if connected {
		payload = []byte("true")
	}
	t := self.m.Publish(self.topicOnline, 1, true, payload)
	_ = self.tokenWait(t, "publish online")
}

func (self *Tele) isRunning() bool {
	select {
	case <-self.stopCh:
		return false
	default:
		return true
	}
}

func (self *Tele) tokenWait(t mqtt.Token, tag string) error {
	if !t.WaitTimeout(self.networkTimeout) {
		err := errors.Timeoutf("%s", tag)
		self.log.Errorf("tele: MQTT %s", err.Error())
		return err
	}
	if err := t.Error(); err != nil {
		err = errors.Annotate(err, tag)
		self.log.Errorf("tele: MQTT %s", err.Error())
		return err
	}
	return nil
}
