package slam

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewPublisher(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	publisher := NewPublisher(nil, "")
	if publisher == nil {
		t.Fatal("NewPublisher() returned nil")
	}
	if publisher.publishPrefix != "scanslam" {
		t.Errorf("Default prefix = %s, want scanslam", publisher.publishPrefix)
	}
	if publisher.qos != 0 {
		t.Errorf("Default QoS = %d, want 0", publisher.qos)
	}
	if !publisher.retain {
		t.Error("Default retain should be true")
	}
	if publisher.Session() == "" {
		t.Error("Session should be set")
	}
	if other := NewPublisher(nil, ""); other.Session() == publisher.Session() {
		t.Error("each publisher should get its own session")
	}
}

func TestNewPublisher_EnvPrefix(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "lab/robot1")
	publisher := NewPublisher(nil, "scanslam")
	if publisher.publishPrefix != "lab/robot1" {
		t.Errorf("prefix = %s, want lab/robot1", publisher.publishPrefix)
	}
}

func TestPublisher_PublishPose(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	client := NewMockClient()
	client.SetConnected(true)
	publisher := NewPublisher(client, "slam")

	step := StepResult{
		Match: MatchResult{
			ScanID:   12,
			Pose:     NewPose(1.5, -2, 30),
			Accepted: true,
			Estimate: EstimateResult{MatchRatio: 0.92},
		},
		NodeID: 12,
		Loop:   &LoopInfo{RefID: 1, CurID: 12},
	}
	if err := publisher.PublishPose(step); err != nil {
		t.Fatalf("PublishPose() error = %v", err)
	}

	msgs := client.GetPublishedMessages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].Topic != "slam/pose" {
		t.Errorf("topic = %s, want slam/pose", msgs[0].Topic)
	}
	if !msgs[0].Retain {
		t.Error("pose should be retained")
	}

	var got PoseMessage
	if err := json.Unmarshal(msgs[0].Payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.ScanID != 12 || got.X != 1.5 || got.Y != -2 || got.Heading != 30 {
		t.Errorf("payload = %+v", got)
	}
	if !got.LoopClosed || !got.Accepted {
		t.Errorf("flags: loopClosed=%v accepted=%v, want both true", got.LoopClosed, got.Accepted)
	}
	if got.Session != publisher.Session() {
		t.Errorf("session = %s, want %s", got.Session, publisher.Session())
	}

	last, ok := publisher.LastPose()
	if !ok || last.ScanID != 12 {
		t.Errorf("LastPose() = %+v, %v", last, ok)
	}
}

func TestPublisher_PublishTrajectory(t *testing.T) {
	client := NewMockClient()
	client.SetConnected(true)
	publisher := NewPublisher(client, "slam")
	publisher.SetQoS(1)
	publisher.SetRetain(false)

	poses := []Pose{{}, NewPose(1, 0, 0), NewPose(1, 1, 90)}
	if err := publisher.PublishTrajectory(poses, 2, 2.0); err != nil {
		t.Fatalf("PublishTrajectory() error = %v", err)
	}

	msgs := client.GetPublishedMessages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].QoS != 1 || msgs[0].Retain {
		t.Errorf("qos=%d retain=%v, want 1 false", msgs[0].QoS, msgs[0].Retain)
	}

	var got TrajectoryMessage
	if err := json.Unmarshal(msgs[0].Payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if len(got.Poses) != 3 || got.LoopArcs != 2 || got.Travelled != 2 {
		t.Errorf("payload = %+v", got)
	}
}

func TestPublisher_Errors(t *testing.T) {
	step := StepResult{Match: MatchResult{ScanID: 1}}

	if err := NewPublisher(nil, "").PublishPose(step); err == nil {
		t.Error("nil client should fail")
	}

	disconnected := NewMockClient()
	publisher := NewPublisher(disconnected, "")
	if err := publisher.PublishPose(step); err == nil {
		t.Error("disconnected client should fail")
	}
	// the pose is remembered even when it could not be sent
	if _, ok := publisher.LastPose(); !ok {
		t.Error("LastPose() should hold the unsent pose")
	}

	failing := NewMockClient()
	failing.SetConnected(true)
	failing.SetPublishError(errors.New("quota"))
	if err := NewPublisher(failing, "").PublishTrajectory(nil, 0, 0); err == nil {
		t.Error("publish error should be returned")
	}
}
