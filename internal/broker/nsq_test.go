package broker

import "testing"

func TestConsumerConfig(t *testing.T) {
	tests := []struct {
		name         string
		maxInFlight  int
		wantInFlight int
	}{
		{"sets max in flight", 32, 32},
		{"keeps nsq default for zero", 0, 1},
		{"keeps nsq default for negative", -1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := consumerConfig(tt.maxInFlight)
			if conf.MaxAttempts != 0 {
				t.Errorf("MaxAttempts = %d, want 0; the consumer must never drop a redelivery before the dispatcher dead-letters it", conf.MaxAttempts)
			}
			if conf.MaxInFlight != tt.wantInFlight {
				t.Errorf("MaxInFlight = %d, want %d", conf.MaxInFlight, tt.wantInFlight)
			}
		})
	}
}
