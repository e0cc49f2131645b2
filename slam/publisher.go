package slam

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// PoseMessage is published on {prefix}/pose after every scan
type PoseMessage struct {
	Session    string  `json:"session"`
	ScanID     int     `json:"scanId"`
	NodeID     int     `json:"nodeId"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Heading    float64 `json:"heading"` // degrees, CCW
	Accepted   bool    `json:"accepted"`
	MatchRatio float64 `json:"matchRatio"`
	LoopClosed bool    `json:"loopClosed"`
	Timestamp  int64   `json:"timestamp"`
}

// TrajectoryMessage is published on {prefix}/trajectory after each back-end run
type TrajectoryMessage struct {
	Session   string  `json:"session"`
	Poses     []Pose  `json:"poses"`
	LoopArcs  int     `json:"loopArcs"`
	Travelled float64 `json:"travelled"`
	Timestamp int64   `json:"timestamp"`
}

// Publisher sends pose estimates to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	session       string
	qos           byte
	retain        bool
	last          *PoseMessage
	mu            sync.RWMutex
}

// NewPublisher creates a publisher. MQTT_PUBLISH_PREFIX overrides prefix.
// A nil client disables publishing.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if env := os.Getenv("MQTT_PUBLISH_PREFIX"); env != "" {
		prefix = env
	}
	if prefix == "" {
		prefix = "scanslam"
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		session:       uuid.NewString(),
		qos:           0,
		retain:        true,
	}
}

// Session identifies this mapping run in every message
func (p *Publisher) Session() string {
	return p.session
}

// PublishPose publishes the pose chosen for one scan
func (p *Publisher) PublishPose(step StepResult) error {
	msg := &PoseMessage{
		Session:    p.session,
		ScanID:     step.Match.ScanID,
		NodeID:     step.NodeID,
		X:          step.Match.Pose.Tx,
		Y:          step.Match.Pose.Ty,
		Heading:    step.Match.Pose.Th,
		Accepted:   step.Match.Accepted,
		MatchRatio: step.Match.Estimate.MatchRatio,
		LoopClosed: step.Loop != nil,
		Timestamp:  time.Now().Unix(),
	}

	p.mu.Lock()
	p.last = msg
	p.mu.Unlock()

	if err := p.publish("pose", msg); err != nil {
		return err
	}
	log.Printf("Published pose for scan %d: (%.3f, %.3f) heading=%.1f°",
		msg.ScanID, msg.X, msg.Y, msg.Heading)
	return nil
}

// PublishTrajectory publishes the full corrected trajectory
func (p *Publisher) PublishTrajectory(poses []Pose, loopArcs int, travelled float64) error {
	return p.publish("trajectory", &TrajectoryMessage{
		Session:   p.session,
		Poses:     poses,
		LoopArcs:  loopArcs,
		Travelled: travelled,
		Timestamp: time.Now().Unix(),
	})
}

func (p *Publisher) publish(suffix string, v any) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	topic := fmt.Sprintf("%s/%s", p.publishPrefix, suffix)

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", suffix, err)
	}

	p.mu.RLock()
	qos, retain := p.qos, p.retain
	p.mu.RUnlock()

	token := p.client.Publish(topic, qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// LastPose returns the most recent pose message
func (p *Publisher) LastPose() (*PoseMessage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return nil, false
	}
	c := *p.last
	return &c, true
}

// SetQoS sets the QoS level for published messages
func (p *Publisher) SetQoS(qos byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.qos = qos
}

// SetRetain sets whether messages should be retained
func (p *Publisher) SetRetain(retain bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retain = retain
}
