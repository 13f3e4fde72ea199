package client

import (
	"encoding/json"
	"fmt"

	"dialysis-ledger/common/mqtt"
	"dialysis-ledger/internal/notify"
)

// Subscriber is satisfied by *mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Watch subscribes to the change topic of patientID and hands every event to onChange.
func Watch(sub Subscriber, prefix, patientID string, qos byte, onChange func(notify.ChangeEvent)) error {
	topic := notify.ChangesTopic(prefix, patientID)
	return sub.Subscribe(topic, qos, func(_ string, payload []byte) error {
		var ev notify.ChangeEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("invalid change event on %s: %w", topic, err)
		}
		if ev.PatientID != patientID {
			return nil
		}
		onChange(ev)
		return nil
	})
}
