package config

import "testing"

type testConfig struct {
	Name  string `yaml:"name" env:"EIGENIPC_TEST_NAME"`
	Rows  int    `yaml:"rows" env:"EIGENIPC_TEST_ROWS"`
	Safe  bool   `yaml:"safe" env:"EIGENIPC_TEST_SAFE"`
	Extra string `yaml:"extra" env:"EIGENIPC_TEST_EXTRA"`
}

func TestLoadString(t *testing.T) {
	var cfg testConfig
	err := LoadString("name: demo\nrows: 7\nsafe: true\n", &cfg)
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	if cfg.Name != "demo" || cfg.Rows != 7 || !cfg.Safe {
		t.Fatalf("parsed %+v", cfg)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("EIGENIPC_TEST_NAME", "from-env")
	t.Setenv("EIGENIPC_TEST_ROWS", "12")

	var cfg testConfig
	if err := LoadString("name: from-yaml\nrows: 3\n", &cfg); err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	if cfg.Name != "from-env" {
		t.Errorf("Name = %q, want the environment override", cfg.Name)
	}
	if cfg.Rows != 12 {
		t.Errorf("Rows = %d, want the environment override", cfg.Rows)
	}
}

func TestLoadStringInvalid(t *testing.T) {
	var cfg testConfig
	if err := LoadString(":\nnot yaml: [", &cfg); err == nil {
		t.Fatal("malformed YAML accepted")
	}
}

func TestLoadFileMissing(t *testing.T) {
	var cfg testConfig
	if err := LoadFile("/nonexistent/eigenipc.yaml", &cfg); err == nil {
		t.Fatal("missing file accepted")
	}
}
