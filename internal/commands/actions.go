package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Action is one of the fixed instructions a garden controller understands
type Action string

const (
	ActionWater              Action = "water"
	ActionLightOn            Action = "light_on"
	ActionLightOff           Action = "light_off"
	ActionSetLightBrightness Action = "set_light_brightness"
	ActionLaserOn            Action = "laser_on"
	ActionLaserOff           Action = "laser_off"
	ActionGetStatus          Action = "get_status"
)

// Actions lists every supported action in a stable order
var Actions = []Action{
	ActionWater,
	ActionLightOn,
	ActionLightOff,
	ActionSetLightBrightness,
	ActionLaserOn,
	ActionLaserOff,
	ActionGetStatus,
}

const (
	defaultWaterDuration   = 30
	minWaterDuration       = 1
	maxWaterDuration       = 300
	defaultLightBrightness = 80
	minBrightness          = 0
	maxBrightness          = 100
)

// WaterParams drives the pump for Duration seconds
type WaterParams struct {
	Duration int `json:"duration"`
}

// BrightnessParams sets the LED brightness in percent
type BrightnessParams struct {
	Brightness int `json:"brightness"`
}

// NoParams is sent for actions that take no arguments
type NoParams struct{}

// ParseAction maps a wire string to an Action
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q (valid actions: %s)", ErrUnsupportedAction, s, validActionList())
}

func validActionList() string {
	names := make([]string, len(Actions))
	for i, a := range Actions {
		names[i] = string(a)
	}
	return strings.Join(names, ", ")
}

// rawParams holds the loosely typed request parameters. Pointers tell an
// absent key apart from an explicit zero.
type rawParams struct {
	Duration   *json.Number `json:"duration"`
	Brightness *json.Number `json:"brightness"`
}

// ValidateParams checks raw against the rules of action and returns the
// canonical parameter struct for it.
func ValidateParams(action Action, raw json.RawMessage) (any, error) {
	switch action {
	case ActionLightOff, ActionLaserOn, ActionLaserOff, ActionGetStatus:
		// whatever was sent is discarded
		return NoParams{}, nil
	}

	var p rawParams
	if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("%w: parameters must be a JSON object", ErrInvalidParameters)
		}
	}

	switch action {
	case ActionWater:
		duration := defaultWaterDuration
		if p.Duration != nil {
			v, err := wholeNumber(*p.Duration, "duration")
			if err != nil {
				return nil, err
			}
			duration = v
		}
		if duration < minWaterDuration || duration > maxWaterDuration {
			return nil, fmt.Errorf("%w: water duration must be between %d and %d seconds",
				ErrInvalidParameters, minWaterDuration, maxWaterDuration)
		}
		return WaterParams{Duration: duration}, nil

	case ActionSetLightBrightness:
		if p.Brightness == nil {
			return nil, fmt.Errorf("%w: brightness is required", ErrInvalidParameters)
		}
		v, err := brightness(*p.Brightness)
		if err != nil {
			return nil, err
		}
		return BrightnessParams{Brightness: v}, nil

	case ActionLightOn:
		if p.Brightness == nil {
			return BrightnessParams{Brightness: defaultLightBrightness}, nil
		}
		v, err := brightness(*p.Brightness)
		if err != nil {
			return nil, err
		}
		return BrightnessParams{Brightness: v}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, action)
}

func brightness(n json.Number) (int, error) {
	v, err := wholeNumber(n, "brightness")
	if err != nil {
		return 0, err
	}
	if v < minBrightness || v > maxBrightness {
		return 0, fmt.Errorf("%w: brightness must be between %d and %d", ErrInvalidParameters, minBrightness, maxBrightness)
	}
	return v, nil
}

func wholeNumber(n json.Number, field string) (int, error) {
	if i, err := n.Int64(); err == nil {
		return int(i), nil
	}
	f, err := n.Float64()
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("%w: %s must be a whole number", ErrInvalidParameters, field)
	}
	return int(f), nil
}
