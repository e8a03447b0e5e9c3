package journal

import "testing"

func TestLogTypeString(t *testing.T) {
	tests := []struct {
		t    LogType
		want string
	}{
		{Info, "INFO"},
		{Stat, "STAT"},
		{Warn, "WARN"},
		{Excep, "EXCEP"},
		{LogType(42), "NONE"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.t.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVLevelOrdering(t *testing.T) {
	if !(V0 < V1 && V1 < V2 && V2 < V3) {
		t.Fatal("verbosity levels are not ordered")
	}
}
