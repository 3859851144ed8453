package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"syscall"
	"time"

	"github.com/atlasterm/ezod/ezo"
	"github.com/atlasterm/ezod/internal/api"
	"github.com/atlasterm/ezod/internal/config"
	"github.com/atlasterm/ezod/internal/monitor"
	"github.com/atlasterm/ezod/internal/storage"

	log "github.com/sirupsen/logrus"
)

var configFile = flag.String("f", "", "YAML config `file`")
var httpServe = flag.String("s", "", "start http server at [bindtohost][:]port, overrides http.addr")
var connTo = flag.String("c", "", "connection string, use socket://[host]:[port] for TCP, i2c://[address] for the I2C bus or [serialDevice] for direct serial connection")
var baud = flag.Int("b", 0, "serial baud rate, overrides serial.baud")
var i2cAddr = flag.Int("a", 0, "I2C address of the stamp behind a Tentacle (1..127), -1 for plain serial")
var verbose = flag.Bool("v", false, "verbose logging")
var showVersion = flag.Bool("version", false, "print version and exit")

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

// To be set via go build -ldflags "-X main.buildVersion=$(git describe --dirty) -X main.buildDate=$(date -u +%FT%TZ)"
var buildVersion = "unspecified"
var buildDate = "unknown"

func setupLogger(cfg config.LogConfig) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	if cfg.Output == "file" && cfg.FilePath != "" {
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			log.SetOutput(file)
		} else {
			log.Warnf("Could not open log file %v: %v, logging to stdout", cfg.FilePath, err)
		}
	}
}

// applyFlags lets command line options override the config file
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "c":
			cfg.Serial.Device = *connTo
		case "b":
			cfg.Serial.Baud = *baud
		case "a":
			cfg.Serial.I2CAddress = int8(*i2cAddr)
		case "s":
			// accept :[portnum] as well as [portnum]
			if i, err := strconv.Atoi(*httpServe); err == nil {
				cfg.HTTP.Addr = fmt.Sprintf(":%d", i)
			} else {
				cfg.HTTP.Addr = *httpServe
			}
		case "v":
			if *verbose {
				cfg.Log.Level = "debug"
			}
		}
	})
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("ezod %s (built %s)\n", buildVersion, buildDate)
		os.Exit(0)
	}

	cfg := config.GetDefaultConfig()
	if *configFile != "" {
		var err error
		cfg, err = config.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Could not load config: %v", err)
		}
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	setupLogger(cfg.Log)

	if cfg.Serial.Device == "" {
		log.Fatal("Need connection string in -c option or serial.device")
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan os.Signal, 1)
	signal.Notify(done,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	go func() {
		<-done

		if *memprofile != "" {
			f, err := os.Create(*memprofile)
			if err != nil {
				log.Fatal("could not create memory profile: ", err)
			}
			runtime.GC() // get up-to-date statistics
			if err := pprof.WriteHeapProfile(f); err != nil {
				log.Fatal("could not write memory profile: ", err)
			}
			f.Close()
		}
		if *cpuprofile != "" {
			pprof.StopCPUProfile()
		}
		cancel()
		os.Exit(0)
	}()

	conn := ezo.NewDevice()
	conn.Baud = cfg.Serial.Baud
	if err := conn.SetI2cAddress(cfg.Serial.I2CAddress); err != nil {
		log.Fatal(err)
	}

	conn.Parser.Subscribe(func(ev ezo.Event) {
		switch ev.Kind {
		case ezo.TransportStatus:
			log.Infof("Stamp status: %v", ev.Status)
		case ezo.MeasurementChanged:
			log.Debugf("%v: %v", ev.Props.ProbeType, ev.Props.Measurement())
		}
	})

	r := api.NewRouter(conn, api.Version{Version: buildVersion, BuildDate: buildDate}, cfg.Poll.Timeout)

	if cfg.Monitor.Enabled {
		m := monitor.NewMonitor()
		conn.Parser.Subscribe(m.Handle)
		m.WatchStats(conn.Stats)
		r.Handle(cfg.Monitor.Path, m.Handler()).Methods("GET")
	}

	if cfg.Redis.Enabled {
		pub, err := storage.NewPublisher(cfg.Redis, func() string { return conn.Session().String() })
		if err != nil {
			log.Errorf("Redis publishing disabled: %v", err)
		} else {
			defer pub.Close()
			conn.Parser.Subscribe(pub.Handle)
			go pub.Run(ctx)
		}
	}

	if cfg.HTTP.Addr != "" {
		h := &http.Server{Addr: cfg.HTTP.Addr, Handler: r}
		go func() { log.Error(h.ListenAndServe()) }()
	}

	connect := func() error { return conn.Connect(cfg.Serial.Device) }
	for {
		if err := connect(); err != nil {
			log.Error(err)
		} else {
			session(ctx, conn, cfg.Poll)
			connect = conn.Reconnect
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.Poll.Reconnect):
			log.Infof("Reconnecting to %v", cfg.Serial.Device)
		}
	}
}

// session identifies the stamp and polls it until the link drops
func session(ctx context.Context, conn *ezo.Device, cfg config.PollConfig) {
	qctx, qcancel := context.WithTimeout(ctx, cfg.Timeout)
	props, err := conn.Identify(qctx)
	qcancel()
	if err != nil {
		log.Warnf("Could not identify stamp: %v", err)
	} else {
		log.Infof("Found EZO %v stamp, firmware %v, reset code %v, %.3f V",
			props.ProbeType, props.FirmwareVersion, props.ResetCode, props.SupplyVoltage)
	}

	pctx, pcancel := context.WithCancel(ctx)
	defer pcancel()
	if cfg.Enabled {
		go conn.Poll(pctx, cfg.Interval)
	}

	select {
	case <-conn.Done:
		log.Warnf("Connection lost")
	case <-ctx.Done():
		conn.Close()
	}
}
