package influxdb

import "testing"

func TestChannelFields(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		key    string
		want   any
		wantOK bool
	}{
		{"bool true", true, "value", 1.0, true},
		{"bool false", false, "value", 0.0, true},
		{"float", -35.5, "value", -35.5, true},
		{"int", 4, "value", 4.0, true},
		{"string", "Stereo", "text", "Stereo", true},
		{"unsupported", []string{"a"}, "", nil, false},
		{"nil", nil, "", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, ok := channelFields(tt.value)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if len(fields) != 1 || fields[tt.key] != tt.want {
				t.Errorf("fields = %v, want %s=%v", fields, tt.key, tt.want)
			}
		})
	}
}
