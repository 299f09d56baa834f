package device

import "testing"

func TestParseSpec(t *testing.T) {
	configs, err := ParseSpec("cuda:0=16,cuda:1=16")
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("len = %d, want 2", len(configs))
	}
	if configs[0].ID != "cuda:0" || configs[0].MemoryGB != 16 {
		t.Errorf("configs[0] = %+v", configs[0])
	}
	if configs[1].ID != "cuda:1" {
		t.Errorf("configs[1] = %+v", configs[1])
	}
}

func TestParseSpecSingle(t *testing.T) {
	configs, err := ParseSpec("cpu:0=7.5")
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	if len(configs) != 1 || configs[0].MemoryGB != 7.5 {
		t.Errorf("configs = %+v", configs)
	}
}

func TestParseSpecErrors(t *testing.T) {
	cases := []struct {
		name string
		spec string
	}{
		{"empty", ""},
		{"missing budget", "cuda:0"},
		{"empty id", "=16"},
		{"bad number", "cuda:0=lots"},
		{"zero budget", "cuda:0=0"},
		{"negative budget", "cuda:0=-4"},
		{"duplicate id", "cuda:0=16,cuda:0=8"},
	}
	for _, tc := range cases {
		if _, err := ParseSpec(tc.spec); err == nil {
			t.Errorf("%s: ParseSpec(%q) should fail", tc.name, tc.spec)
		}
	}
}

func TestDetect(t *testing.T) {
	configs, err := Detect(3)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(configs) != 3 {
		t.Fatalf("len = %d, want 3", len(configs))
	}
	for i, c := range configs {
		if c.MemoryGB <= 0 {
			t.Errorf("device %d has budget %v", i, c.MemoryGB)
		}
	}
	if configs[0].ID == configs[1].ID {
		t.Error("detected device ids should be distinct")
	}
}

func TestDetectClampsWorkers(t *testing.T) {
	configs, err := Detect(0)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(configs) != 1 {
		t.Errorf("len = %d, want 1", len(configs))
	}
}
