// Command eigenipc-check drives one role of a shared-tensor exchange from
// a YAML config file, for cross-process smoke checks:
//
//	eigenipc-check server.yaml     # create, run, write a pattern, hold
//	eigenipc-check client.yaml     # attach, read back, print corner values
//	eigenipc-check producer.yaml   # trigger/collect-ack loop
//	eigenipc-check consumer.yaml   # wait-and-ack loop
//
// Every field can be overridden from the environment (EIGENIPC_* names),
// and the whole document can be passed inline via $config.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	eigenipc "github.com/AndrePatri/EigenIPC"
	"github.com/AndrePatri/EigenIPC/config"
	"github.com/AndrePatri/EigenIPC/journal"
)

type checkConfig struct {
	Role      string `yaml:"role" env:"EIGENIPC_ROLE"`
	Basename  string `yaml:"basename" env:"EIGENIPC_BASENAME"`
	Namespace string `yaml:"namespace" env:"EIGENIPC_NAMESPACE"`

	DType  string `yaml:"dtype" env:"EIGENIPC_DTYPE"`
	Layout string `yaml:"layout" env:"EIGENIPC_LAYOUT"`
	Rows   int    `yaml:"rows" env:"EIGENIPC_ROWS"`
	Cols   int    `yaml:"cols" env:"EIGENIPC_COLS"`

	Safe    bool `yaml:"safe" env:"EIGENIPC_SAFE"`
	Force   bool `yaml:"force_reconnection" env:"EIGENIPC_FORCE"`
	Verbose bool `yaml:"verbose" env:"EIGENIPC_VERBOSE"`
	VLevel  int  `yaml:"vlevel" env:"EIGENIPC_VLEVEL"`

	Consumers int `yaml:"consumers" env:"EIGENIPC_CONSUMERS"`
	Triggers  int `yaml:"triggers" env:"EIGENIPC_TRIGGERS"`
	TimeoutMs int `yaml:"timeout_ms" env:"EIGENIPC_TIMEOUT_MS"`
}

func main() {
	var cfg checkConfig
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("eigenipc-check: %v", err)
	}
	if cfg.Basename == "" {
		cfg.Basename = "EigenIPCCheck"
	}
	if cfg.Rows == 0 {
		cfg.Rows = 4
	}
	if cfg.Cols == 0 {
		cfg.Cols = 4
	}
	if cfg.Consumers == 0 {
		cfg.Consumers = 1
	}
	if cfg.Triggers == 0 {
		cfg.Triggers = 10
	}
	if cfg.TimeoutMs == 0 {
		cfg.TimeoutMs = 10000
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cfg.Role {
	case "server":
		err = runServer(ctx, cfg)
	case "client":
		err = runClient(ctx, cfg)
	case "producer":
		err = runProducer(cfg)
	case "consumer":
		err = runConsumer(ctx, cfg)
	default:
		err = fmt.Errorf("unknown role %q (want server, client, producer or consumer)", cfg.Role)
	}
	if err != nil {
		log.Fatalf("eigenipc-check: %v", err)
	}
}

func layoutOf(cfg checkConfig) eigenipc.Layout {
	if cfg.Layout == "col-major" {
		return eigenipc.ColMajor
	}
	return eigenipc.RowMajor
}

// runServer dispatches on the configured dtype; this is the runtime
// boundary where the generic core meets stringly-typed configuration.
func runServer(ctx context.Context, cfg checkConfig) error {
	switch cfg.DType {
	case "bool":
		return serveTensor[bool](ctx, cfg, true)
	case "int":
		return serveTensor[int32](ctx, cfg, 42)
	case "double":
		return serveTensor[float64](ctx, cfg, 42.0)
	case "float", "":
		return serveTensor[float32](ctx, cfg, 42.0)
	default:
		return fmt.Errorf("unknown dtype %q", cfg.DType)
	}
}

func serveTensor[T eigenipc.Scalar](ctx context.Context, cfg checkConfig, fill T) error {
	srvr, err := eigenipc.NewServer[T](cfg.Rows, cfg.Cols, cfg.Basename, cfg.Namespace,
		layoutOf(cfg), eigenipc.ServerOptions{
			Verbose:           cfg.Verbose,
			VLevel:            journal.VLevel(cfg.VLevel),
			ForceReconnection: cfg.Force,
			Safe:              cfg.Safe,
		})
	if err != nil {
		return err
	}
	defer srvr.Close()

	if err := srvr.Run(); err != nil {
		return err
	}

	pattern := eigenipc.NewTensor[T](cfg.Rows, cfg.Cols, layoutOf(cfg))
	for r := 0; r < cfg.Rows; r++ {
		for c := 0; c < cfg.Cols; c++ {
			pattern.Set(r, c, fill)
		}
	}
	if !srvr.Write(pattern, 0, 0) {
		return fmt.Errorf("pattern write refused")
	}

	fmt.Printf("serving %dx%d %s tensor at (%s, %s); ctrl-c to stop\n",
		cfg.Rows, cfg.Cols, cfg.DType, cfg.Basename, cfg.Namespace)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := srvr.NClients()
			if err != nil {
				return err
			}
			fmt.Printf("clients attached: %d\n", n)
		}
	}
}

func runClient(ctx context.Context, cfg checkConfig) error {
	switch cfg.DType {
	case "bool":
		return probeTensor[bool](ctx, cfg)
	case "int":
		return probeTensor[int32](ctx, cfg)
	case "double":
		return probeTensor[float64](ctx, cfg)
	case "float", "":
		return probeTensor[float32](ctx, cfg)
	default:
		return fmt.Errorf("unknown dtype %q", cfg.DType)
	}
}

func probeTensor[T eigenipc.Scalar](ctx context.Context, cfg checkConfig) error {
	clnt := eigenipc.NewClient[T](cfg.Basename, cfg.Namespace, layoutOf(cfg), eigenipc.ClientOptions{
		Verbose: cfg.Verbose,
		VLevel:  journal.VLevel(cfg.VLevel),
		Safe:    cfg.Safe,
	})

	attachCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutMs)*time.Millisecond)
	defer cancel()
	if err := clnt.Attach(attachCtx); err != nil {
		return err
	}
	defer clnt.Close()

	out := eigenipc.NewTensor[T](clnt.NRows(), clnt.NCols(), layoutOf(cfg))
	if !clnt.Read(out, 0, 0) {
		return fmt.Errorf("read refused")
	}

	fmt.Printf("read %dx%d tensor from (%s, %s); corner values: %v %v\n",
		clnt.NRows(), clnt.NCols(), cfg.Basename, cfg.Namespace,
		out.At(0, 0), out.At(clnt.NRows()-1, clnt.NCols()-1))
	return nil
}

func runProducer(cfg checkConfig) error {
	prod, err := eigenipc.NewProducer(cfg.Basename, cfg.Namespace, eigenipc.ProducerOptions{
		Verbose:           cfg.Verbose,
		VLevel:            journal.VLevel(cfg.VLevel),
		ForceReconnection: cfg.Force,
	})
	if err != nil {
		return err
	}
	defer prod.Close()

	if err := prod.Run(); err != nil {
		return err
	}

	for i := 0; i < cfg.Triggers; i++ {
		if err := prod.Trigger(); err != nil {
			return err
		}
		ok, err := prod.WaitAckFrom(cfg.Consumers, cfg.TimeoutMs)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("trigger %d: timed out waiting for %d acks", i, cfg.Consumers)
		}
		fmt.Printf("trigger %d acknowledged by %d consumers\n", i, cfg.Consumers)
	}
	return nil
}

func runConsumer(ctx context.Context, cfg checkConfig) error {
	cons := eigenipc.NewConsumer(cfg.Basename, cfg.Namespace, eigenipc.ConsumerOptions{
		Verbose: cfg.Verbose,
		VLevel:  journal.VLevel(cfg.VLevel),
	})

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutMs)*time.Millisecond)
	defer cancel()
	if err := cons.Run(runCtx); err != nil {
		return err
	}
	defer cons.Close()

	for i := 0; i < cfg.Triggers; i++ {
		ok, err := cons.WaitAndAck(func() bool { return true }, cfg.TimeoutMs)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("trigger %d: wait timed out", i)
		}
		fmt.Printf("trigger %d consumed and acknowledged\n", i)
	}
	return nil
}
