package slam

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// ScanMessage is the JSON payload of a scan published over MQTT. Either
// Ranges (with AngleMin/AngleIncrement in degrees) or Points is set.
type ScanMessage struct {
	ID             int       `json:"id"`
	Timestamp      int64     `json:"timestamp"` // unix milliseconds
	Odometry       Pose      `json:"odometry"`  // heading in degrees
	AngleMin       float64   `json:"angleMin,omitempty"`
	AngleIncrement float64   `json:"angleIncrement,omitempty"`
	Ranges         []float64 `json:"ranges,omitempty"`
	Points         []Point   `json:"points,omitempty"`
}

// DecodeScanMessage converts a JSON payload into a Scan, applying the input
// range filter and angle offset to range data.
func DecodeScanMessage(payload []byte, cfg InputConfig) (*Scan, error) {
	var msg ScanMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("parsing scan JSON: %w", err)
	}
	scan := &Scan{
		ID:        msg.ID,
		Timestamp: time.UnixMilli(msg.Timestamp),
		Odometry:  NewPose(msg.Odometry.Tx, msg.Odometry.Ty, msg.Odometry.Th),
	}
	switch {
	case len(msg.Ranges) > 0:
		scan.Points = make([]Point, 0, len(msg.Ranges))
		for i, rng := range msg.Ranges {
			if rng <= cfg.MinRange || (cfg.MaxRange > 0 && rng >= cfg.MaxRange) {
				continue
			}
			a := DegToRad(msg.AngleMin + float64(i)*msg.AngleIncrement + cfg.AngleOffset)
			scan.Points = append(scan.Points, Point{X: rng * math.Cos(a), Y: rng * math.Sin(a)})
		}
	case len(msg.Points) > 0:
		scan.Points = make([]Point, len(msg.Points))
		for i, p := range msg.Points {
			scan.Points[i] = Point{X: p.X, Y: p.Y}
		}
	default:
		return nil, fmt.Errorf("%w: scan message has no ranges or points", ErrMalformedRecord)
	}
	return scan, nil
}

// MQTTScanSource receives scans from an MQTT topic and hands them out in
// arrival order through LoadNext. When the consumer falls behind, new scans
// are dropped.
type MQTTScanSource struct {
	client      mqtt.Client
	topic       string
	qos         byte
	input       InputConfig
	scans       chan *Scan
	done        chan struct{}
	closeOnce   sync.Once
	isConnected bool
	received    int
	dropped     int
	mu          sync.RWMutex
}

// InitMQTT creates a scan source from config. MQTT_* environment variables
// override the config. Returns nil, nil when no broker is configured.
func InitMQTT(cfg *Config) (*MQTTScanSource, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && cfg != nil {
		broker = cfg.MQTT.Broker
	}
	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}
	if cfg == nil || cfg.MQTT.ScanTopic == "" {
		return nil, fmt.Errorf("MQTT enabled but mqtt.scanTopic is not configured")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" {
		clientID = cfg.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "scanslam-" + uuid.NewString()[:8]
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" {
		username = cfg.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" {
			password = cfg.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(true) // scans must reach the matcher in sequence

	s := newMQTTScanSource(nil, cfg)
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Println("MQTT reconnecting...")
	})
	s.client = mqtt.NewClient(opts)

	go s.connectWithRetry()
	return s, nil
}

// NewMQTTScanSource wraps an existing client; call Subscribe once connected
func NewMQTTScanSource(client mqtt.Client, cfg *Config) *MQTTScanSource {
	return newMQTTScanSource(client, cfg)
}

func newMQTTScanSource(client mqtt.Client, cfg *Config) *MQTTScanSource {
	return &MQTTScanSource{
		client: client,
		topic:  cfg.MQTT.ScanTopic,
		qos:    cfg.MQTT.QoS,
		input:  cfg.Input,
		scans:  make(chan *Scan, 64),
		done:   make(chan struct{}),
	}
}

// connectWithRetry connects with exponential backoff until Close
func (s *MQTTScanSource) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")
		token := s.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				s.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		select {
		case <-s.done:
			return
		case <-time.After(retryDelay):
		}
		retryDelay = min(retryDelay*2, maxRetryDelay)
	}
}

func (s *MQTTScanSource) onConnect(client mqtt.Client) {
	s.setConnected(true)
	if err := s.Subscribe(); err != nil {
		log.Printf("Error subscribing: %v", err)
	}
}

func (s *MQTTScanSource) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	s.setConnected(false)
}

const subscribeTimeout = 5 * time.Second

// Subscribe registers the scan handler on the configured topic
func (s *MQTTScanSource) Subscribe() error {
	log.Printf("Subscribing to %s", s.topic)
	token := s.client.Subscribe(s.topic, s.qos, s.handleMessage)
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("subscribing to %s: timed out after %v", s.topic, subscribeTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.topic, err)
	}
	return nil
}

func (s *MQTTScanSource) handleMessage(client mqtt.Client, msg mqtt.Message) {
	scan, err := DecodeScanMessage(msg.Payload(), s.input)
	if err != nil {
		log.Printf("Error decoding scan from %s: %v", msg.Topic(), err)
		return
	}

	s.mu.Lock()
	s.received++
	s.mu.Unlock()

	select {
	case <-s.done:
	case s.scans <- scan:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		log.Printf("Scan queue full, dropping scan %d", scan.ID)
	}
}

// LoadNext blocks until a scan arrives, the source is closed or ctx ends
func (s *MQTTScanSource) LoadNext(ctx context.Context) (*Scan, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case <-s.done:
		return nil, false, nil
	case scan := <-s.scans:
		return scan, true, nil
	}
}

// Close stops delivery and disconnects
func (s *MQTTScanSource) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.client != nil && s.client.IsConnected() {
			log.Println("Disconnecting from MQTT broker...")
			s.client.Disconnect(250)
		}
		s.setConnected(false)
	})
}

// Counts returns the number of scans received and dropped
func (s *MQTTScanSource) Counts() (received, dropped int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.received, s.dropped
}

// IsConnected returns true if the MQTT client is connected
func (s *MQTTScanSource) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isConnected
}

func (s *MQTTScanSource) setConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isConnected = connected
}

// Client returns the underlying MQTT client for publishing
func (s *MQTTScanSource) Client() mqtt.Client {
	return s.client
}
