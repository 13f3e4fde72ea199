package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// MQTTPublisher is satisfied by common/mqtt.Client.
type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTFanout pushes each change to <prefix>/<patient_id>/changes.
type MQTTFanout struct {
	client MQTTPublisher
	prefix string
	qos    byte
	logger *zap.Logger
}

func NewMQTTFanout(client MQTTPublisher, prefix string, qos byte, logger *zap.Logger) *MQTTFanout {
	return &MQTTFanout{client: client, prefix: strings.TrimSuffix(prefix, "/"), qos: qos, logger: logger}
}

// ChangesTopic is the per-patient push topic.
func ChangesTopic(prefix, patientID string) string {
	return fmt.Sprintf("%s/%s/changes", strings.TrimSuffix(prefix, "/"), patientID)
}

func (f *MQTTFanout) OnRecordChanged(_ context.Context, ev ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	topic := ChangesTopic(f.prefix, ev.PatientID)
	if err := f.client.Publish(topic, f.qos, false, payload); err != nil {
		return err
	}
	f.logger.Debug("Pushed change event",
		zap.String("topic", topic),
		zap.String("kind", string(ev.Kind)),
		zap.String("op", string(ev.Op)),
	)
	return nil
}
