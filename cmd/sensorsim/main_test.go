package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/sensor-simulator/internal/config"
	"github.com/signalsfoundry/sensor-simulator/internal/control"
	"github.com/signalsfoundry/sensor-simulator/internal/logging"
)

const scenarioFile = `
clock: {tick: 10ms, duration: 50ms, mode: accelerated, factor: 10}
metrics: {addr: ""}
world:
  links:
    - {name: "robot::foot", position: [0, 0, 0]}
sensors:
  - {name: foot, plugin: contact.so, parent: "robot::foot", rate: 100}
`

func writeScenario(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(scenarioFile), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	return path
}

func TestRunCommandPrintsSummary(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"run", "--config", writeScenario(t), "--log-level", "error"})

	if err := root.Execute(); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "50ms simulated in 5 steps") {
		t.Fatalf("summary = %q", got)
	}
	if !strings.Contains(got, "foot") {
		t.Fatalf("summary missing sensor row: %q", got)
	}
}

func TestRunCommandPlotsSeries(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"run", "--config", writeScenario(t), "--log-level", "error", "--plot", "foot.count"})

	if err := root.Execute(); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "foot.count") || strings.Contains(got, "no samples") {
		t.Fatalf("plot output = %q", got)
	}
}

func TestParseSeries(t *testing.T) {
	s, err := parseSeries("arm.imu.az")
	if err != nil {
		t.Fatalf("parseSeries: %v", err)
	}
	if s.sensor != "arm.imu" || s.key != "az" {
		t.Fatalf("series = %q %q", s.sensor, s.key)
	}
	for _, bad := range []string{"", "foot", ".count", "foot."} {
		if _, err := parseSeries(bad); err == nil {
			t.Fatalf("parseSeries(%q) accepted", bad)
		}
	}
}

func TestPluginsCommandListsTypes(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"plugins"})

	if err := root.Execute(); err != nil {
		t.Fatalf("plugins: %v", err)
	}
	if got, want := out.String(), "camera\ncontact\nimu\nlidar\norbit\n"; got != want {
		t.Fatalf("plugins output = %q, want %q", got, want)
	}
}

func TestSetupAppliesChangedFlagsOnly(t *testing.T) {
	root := newRootCmd()
	run, _, err := root.Find([]string{"run"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	path := writeScenario(t)
	if err := run.ParseFlags([]string{"--threaded", "--workers", "2"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	rf := &rootFlags{configFile: path}
	f := &runFlags{threaded: true, workers: 2, tick: time.Second}
	cfg, _, err := setup(run, rf, f)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !cfg.Manager.Threaded || cfg.Manager.Workers != 2 {
		t.Fatalf("manager = %+v", cfg.Manager)
	}
	if cfg.Clock.Tick != 10*time.Millisecond || cfg.Clock.Duration != 50*time.Millisecond {
		t.Fatalf("unchanged flags overrode file: %+v", cfg.Clock)
	}
}

func TestServeStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg, err := config.Load(writeScenario(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	log := logging.New(logging.Config{Level: "warn", Format: "text"})

	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(ctx, cfg, log, lis, prometheus.NewRegistry())
	}()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()

	resp, err := control.NewClient(conn).LookupSensor(ctx, &structpb.Struct{Fields: map[string]*structpb.Value{
		"name": structpb.NewStringValue("foot"),
	}})
	if err != nil {
		t.Fatalf("LookupSensor: %v", err)
	}
	if resp.GetFields()["id"].GetNumberValue() != 1 {
		t.Fatalf("LookupSensor = %v", resp)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("serve returned error: %v", err)
	}
}
