package config

import (
	"context"
	"encoding/json"
	"errors"

	"fieldnode-go/bus"
)

// -----------------------------------------------------------------------------
// String constants (live in flash, not RAM)
// -----------------------------------------------------------------------------

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = "device" // context key used for device ID
)

// Topic returns the retained topic for a config key.
func Topic(key string) bus.Topic { return bus.T(configPrefix, key) }

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
	// Lookup resolves a device ID to its raw JSON document.
	Lookup func(device string) ([]byte, bool)
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName, Lookup: EmbeddedLookup}
}

// EmbeddedLookup resolves configs compiled into the image.
func EmbeddedLookup(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// publishConfig reads the device config and publishes each top-level key as
// a retained message on config/<key>.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return errors.New("missing device ID in context")
	}

	raw, ok := s.Lookup(device)
	if !ok || len(raw) == 0 {
		return errors.New("no embedded config for device: " + device)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return errors.New("embedded config is not a JSON object")
	}

	for k, v := range m {
		conn.Publish(conn.NewMessage(Topic(k), v, true))
	}
	return nil
}

// Start publishes the device config. Publishing is synchronous so that
// services started afterwards find their retained config waiting.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) error {
	if err := s.publishConfig(ctx, conn); err != nil {
		println("[config] publish failed:", err.Error())
		return err
	}
	println("[config] published")
	return nil
}

// Decode fills dst from a config payload. dst should already hold defaults;
// fields absent from the document keep them. Accepted payloads are raw JSON
// (json.RawMessage, []byte, string), a value of type T, or a generic decoded
// JSON value such as map[string]any.
func Decode[T any](payload any, dst *T) error {
	switch v := payload.(type) {
	case nil:
		return errors.New("config: empty payload")
	case T:
		*dst = v
		return nil
	case *T:
		if v == nil {
			return errors.New("config: empty payload")
		}
		*dst = *v
		return nil
	case json.RawMessage:
		return json.Unmarshal(v, dst)
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}
