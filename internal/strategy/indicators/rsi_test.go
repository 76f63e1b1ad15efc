package indicators

import "testing"

func TestRSI(t *testing.T) {
	tests := []struct {
		name          string
		period        int
		values        []float64
		expectedValue float64
		expectError   bool
	}{
		{
			name:          "RSI with sufficient data",
			period:        3,
			values:        []float64{100, 102, 101, 103, 102, 104},
			expectedValue: 77.272727, // Wilder's smoothing
		},
		{
			name:        "Insufficient data",
			period:      7,
			values:      []float64{100, 102, 101, 103, 102, 104},
			expectError: true,
		},
		{
			name:          "All gains",
			period:        3,
			values:        []float64{100, 102, 104, 106},
			expectedValue: 100.0,
		},
		{
			name:          "All losses",
			period:        3,
			values:        []float64{106, 104, 102, 100},
			expectedValue: 0.0,
		},
		{
			name:          "Flat series is neutral",
			period:        3,
			values:        []float64{100, 100, 100, 100},
			expectedValue: 50.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := RSI(tt.values, tt.period)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if value-tt.expectedValue > 0.0001 || value-tt.expectedValue < -0.0001 {
				t.Errorf("Expected value %f, got %f", tt.expectedValue, value)
			}
		})
	}
}

func TestRSISeries_Length(t *testing.T) {
	series, err := RSISeries([]float64{1, 2, 3, 2, 1, 2}, 3)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(series) != 3 {
		t.Errorf("Expected 3 values, got %d", len(series))
	}
}
