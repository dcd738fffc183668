package room

import "testing"

type states map[string]string

func (s states) State(entityID string) string {
	if v, ok := s[entityID]; ok {
		return v
	}
	return "unknown"
}

func TestActivitySensors(t *testing.T) {
	humidity, err := NumericComparator(">", 10)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		sensor  ActivitySensor
		states  states
		want    bool
		wantErr bool
	}{
		{"is_on/on", IsOn("switch.tv"), states{"switch.tv": "on"}, true, false},
		{"is_on/off", IsOn("switch.tv"), states{"switch.tv": "off"}, false, false},
		{"is_on/unknown", IsOn("switch.tv"), states{}, false, false},
		{"is_off/off", IsOff("binary_sensor.door"), states{"binary_sensor.door": "off"}, true, false},
		{"isnt_off/playing", IsntOff("media_player.tv"), states{"media_player.tv": "playing"}, true, false},
		{"isnt_off/off", IsntOff("media_player.tv"), states{"media_player.tv": "off"}, false, false},
		{"isnt_off/unknown", IsntOff("media_player.tv"), states{}, true, false},
		{"is/match", Is("sun.sun", "below_horizon"), states{"sun.sun": "below_horizon"}, true, false},
		{"is/other", Is("sun.sun", "below_horizon"), states{"sun.sun": "above_horizon"}, false, false},
		{"below/under", IsBelow("sensor.lux", 50), states{"sensor.lux": "12.5"}, true, false},
		{"below/equal", IsBelow("sensor.lux", 50), states{"sensor.lux": "50"}, false, false},
		{"below/unavailable", IsBelow("sensor.lux", 50), states{"sensor.lux": "unavailable"}, false, false},
		{"below/garbage", IsBelow("sensor.lux", 50), states{"sensor.lux": "bright"}, false, true},
		{"above/over", IsAbove("sensor.power", 5), states{"sensor.power": " 80 "}, true, false},
		{"above/under", IsAbove("sensor.power", 5), states{"sensor.power": "1"}, false, false},
		{
			"compared_to/shower_running",
			ComparedTo("sensor.bathroom_humidity", "sensor.hallway_humidity", humidity, "> hallway + 10"),
			states{"sensor.bathroom_humidity": "78", "sensor.hallway_humidity": "55"},
			true, false,
		},
		{
			"compared_to/normal",
			ComparedTo("sensor.bathroom_humidity", "sensor.hallway_humidity", humidity, "> hallway + 10"),
			states{"sensor.bathroom_humidity": "60", "sensor.hallway_humidity": "55"},
			false, false,
		},
		{
			"compared_to/other_unknown",
			ComparedTo("sensor.bathroom_humidity", "sensor.hallway_humidity", humidity, "> hallway + 10"),
			states{"sensor.bathroom_humidity": "90"},
			false, false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.sensor.IsActive(tt.states)
			if (err != nil) != tt.wantErr {
				t.Fatalf("IsActive() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("IsActive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNumericComparatorRejectsUnknownOperator(t *testing.T) {
	if _, err := NumericComparator("==", 0); err == nil {
		t.Error("expected error for unsupported operator")
	}
}

func TestSensorString(t *testing.T) {
	if got := IsBelow("sensor.lux", 50).String(); got != "sensor.lux < 50" {
		t.Errorf("String() = %q", got)
	}
	if got := IsntOff("media_player.tv").String(); got != "media_player.tv isn't off" {
		t.Errorf("String() = %q", got)
	}
}
