// Package main is the gateway CLI: it wires a Transport, QoS Engine,
// Router and entity Gateway together and runs them until interrupted.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/MatusOllah/slogcolor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/evohome-rf/ramses-gateway/ramses"
)

var (
	configPath  string
	verbose     bool
	metricsAddr string
)

func main() {
	root := &cobra.Command{
		Use:   "ramses-rf",
		Short: "Decode, command and reconstruct the state of a RAMSES-II heating installation",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the gateway's YAML configuration file")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable DEBUG log messages")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve /metrics and /devices on (empty disables the HTTP surface)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newScheduleCmd())
	root.AddCommand(newFaultlogCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	opts := slogcolor.DefaultOptions
	if verbose {
		opts.Level = slog.LevelDebug
	} else {
		opts.Level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slogcolor.NewHandler(os.Stderr, opts)))
	slog.Debug("Debug messages look like this")
}

func loadConfig() ramses.Config {
	cfg := ramses.DefaultConfig()
	if data, err := os.ReadFile(configPath); err != nil {
		if os.IsNotExist(err) {
			slog.Warn("configuration file does not exist, using defaults", "fn", configPath)
		} else {
			slog.Error("unable to load configuration file", "fn", configPath, "err", err)
		}
	} else if err := loadYAML(data, &cfg); err != nil {
		slog.Error("malformed configuration file", "fn", configPath, "err", err)
	} else {
		slog.Debug("loaded configuration", "fn", configPath)
	}
	return cfg
}

func loadYAML(data []byte, cfg *ramses.Config) error {
	return yaml.Unmarshal(data, cfg)
}

// httpServer wraps the debug HTTP surface so it can be started in the
// background and stopped gracefully alongside the main loop.
type httpServer struct {
	addr    string
	handler http.Handler
	srv     *http.Server
}

func (s *httpServer) run() {
	s.srv = &http.Server{Addr: s.addr, Handler: s.handler}
	slog.Info("starting debug HTTP surface", "addr", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("debug HTTP surface stopped", "err", err)
	}
}

func (s *httpServer) stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(shutdownCtx)
}

// newServeCmd runs the live gateway: open the serial transport, start the
// QoS engine and router, and process packets until interrupted.
func newServeCmd() *cobra.Command {
	var serialPort string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the live gateway against a serial HGI80-class device",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			cfg := loadConfig()
			if serialPort != "" {
				cfg.SerialPort = serialPort
			}
			cfg.Normalize("")

			tr, err := ramses.OpenSerial(ramses.SerialConfig{Port: cfg.SerialPort})
			if err != nil {
				return fmt.Errorf("open serial transport: %w", err)
			}
			defer tr.Close()

			return runGateway(cmd.Context(), cfg, tr, nil)
		},
	}
	cmd.Flags().StringVar(&serialPort, "serial-port", "", "override the configured serial device, e.g. /dev/ttyUSB0")
	return cmd
}

// newReplayCmd replays a previously captured packet log file with sending
// disabled, per §6's offline-analysis mode.
func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <packet-log>",
		Short: "Replay a captured packet log file offline, with sending disabled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			cfg := loadConfig()
			cfg.Normalize(args[0])

			tr, err := ramses.OpenReplay(args[0])
			if err != nil {
				return fmt.Errorf("open replay file: %w", err)
			}
			defer tr.Close()

			return runGateway(cmd.Context(), cfg, tr, nil)
		},
	}
	return cmd
}

// newScheduleCmd fetches a zone schedule over a live gateway and writes
// its decoded switchpoints to stdout, per §4.6.
func newScheduleCmd() *cobra.Command {
	var controller, zoneIdx, serialPort string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Fetch and decode one zone's heating schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			cfg := loadConfig()
			if serialPort != "" {
				cfg.SerialPort = serialPort
			}

			tr, err := ramses.OpenSerial(ramses.SerialConfig{Port: cfg.SerialPort})
			if err != nil {
				return fmt.Errorf("open serial transport: %w", err)
			}
			defer tr.Close()

			ctlAddr, err := ramses.ParseAddress(controller)
			if err != nil {
				return err
			}

			done := make(chan error, 1)
			var sched *ramses.Schedule
			var xfer *ramses.ScheduleTransfer

			engine := ramses.NewEngine(tr, slog.Default(), nil)
			framer := ramses.NewFramer(tr, slog.Default(), time.Now)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			go func() { done <- engine.Run(ctx) }()

			idx64, _ := strconv.ParseInt(zoneIdx, 16, 0)
			idx := int(idx64)
			xfer = ramses.NewScheduleTransfer(zoneIdx)
			sendFragmentRequest(engine, ctlAddr, idx, 0)

			for {
				pkt, err := framer.Next()
				if err != nil {
					return fmt.Errorf("framer: %w", err)
				}
				msg := ramses.DecodeMessage(pkt)
				engine.Dispatch(msg)
				if pkt.Code != "0404" || !msg.Valid {
					continue
				}
				// Fragment assembly is driven by the 0404 payload's own
				// frag-number/frag-total fields; the fragment data itself
				// is everything after the 7-byte frame header.
				for _, rec := range msg.Records {
					fragNumber, _ := rec["frag_number"].(int)
					total, _ := rec["frag_total"].(int)
					data, err := hex.DecodeString(pkt.PayloadHx[14:])
					if err != nil {
						continue
					}
					xfer.AddFragment(fragNumber, total, data, pkt.RxAt)
				}
				if xfer.Complete() {
					sched, err = xfer.Decode()
					if err != nil {
						return err
					}
					break
				}
				next, total := xfer.NextFragmentIndex()
				if next <= total {
					sendFragmentRequest(engine, ctlAddr, idx, next-1)
				}
			}

			printSchedule(sched)
			cancel()
			<-done
			return nil
		},
	}
	cmd.Flags().StringVar(&controller, "controller", "", "controller device id, e.g. 01:145038")
	cmd.Flags().StringVar(&zoneIdx, "zone", "00", "zone index, two hex digits")
	cmd.Flags().StringVar(&serialPort, "serial-port", "", "override the configured serial device")
	cmd.MarkFlagRequired("controller")
	return cmd
}

func sendFragmentRequest(engine *ramses.Engine, ctl ramses.Address, zoneIdx, fragIdx int) {
	payload := fmt.Sprintf("00%02X%02X", zoneIdx, fragIdx+1)
	engine.Submit(&ramses.Command{
		Verb:       ramses.VerbRequest,
		Addr:       [3]ramses.Address{ctl, ctl, ctl},
		Code:       "0404",
		PayloadHex: payload,
		Priority:   ramses.PriorityHigh,
		RetryLimit: 3,
	})
}

func printSchedule(s *ramses.Schedule) {
	if s == nil {
		fmt.Println("no schedule decoded")
		return
	}
	days := []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
	for i, day := range s.Days {
		fmt.Printf("%s:\n", days[i])
		for _, sp := range day {
			fmt.Printf("  %02d:%02d -> %.1fC\n", sp.MinutesOfDay/60, sp.MinutesOfDay%60, sp.SetpointC)
		}
	}
}

// newFaultlogCmd walks a controller's fault log to exhaustion and prints
// every entry, per §4.7.
func newFaultlogCmd() *cobra.Command {
	var controller, serialPort string
	cmd := &cobra.Command{
		Use:   "faultlog",
		Short: "Fetch and print a controller's fault log",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			cfg := loadConfig()
			if serialPort != "" {
				cfg.SerialPort = serialPort
			}

			tr, err := ramses.OpenSerial(ramses.SerialConfig{Port: cfg.SerialPort})
			if err != nil {
				return fmt.Errorf("open serial transport: %w", err)
			}
			defer tr.Close()

			ctlAddr, err := ramses.ParseAddress(controller)
			if err != nil {
				return err
			}

			engine := ramses.NewEngine(tr, slog.Default(), nil)
			framer := ramses.NewFramer(tr, slog.Default(), time.Now)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- engine.Run(ctx) }()

			client := ramses.NewFaultLogClient()

			send := func(ctx context.Context, logIdx int) (*ramses.Message, error) {
				rx := make(chan *ramses.Message, 1)
				engine.Submit(&ramses.Command{
					Verb:       ramses.VerbRequest,
					Addr:       [3]ramses.Address{ctlAddr, ctlAddr, ctlAddr},
					Code:       "0418",
					PayloadHex: ramses.RQPayload0418(logIdx),
					Priority:   ramses.PriorityDefault,
					RetryLimit: 3,
					Callback: &ramses.Callback{
						Fn: func(msg *ramses.Message) { rx <- msg },
					},
				})
				select {
				case m := <-rx:
					return m, nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}

			go func() {
				for {
					pkt, err := framer.Next()
					if err != nil {
						return
					}
					msg := ramses.DecodeMessage(pkt)
					engine.Dispatch(msg)
				}
			}()

			if err := client.Fetch(ctx, send); err != nil {
				return err
			}
			for _, e := range client.Entries() {
				fmt.Printf("%d %s %s %s\n", e.LogIdx, e.Timestamp, e.FaultType, e.Device)
			}
			cancel()
			<-done
			return nil
		},
	}
	cmd.Flags().StringVar(&controller, "controller", "", "controller device id, e.g. 01:145038")
	cmd.Flags().StringVar(&serialPort, "serial-port", "", "override the configured serial device")
	cmd.MarkFlagRequired("controller")
	return cmd
}

// runGateway drives the common serve/replay loop: QoS engine + framer +
// router, with an optional debug HTTP surface, until ctx is cancelled.
func runGateway(ctx context.Context, cfg ramses.Config, tr ramses.Transport, schema *ramses.SystemSchema) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	metrics := ramses.NewMetrics(prometheus.DefaultRegisterer)
	gwy := ramses.NewGateway(cfg.MaxZones, metrics)
	if schema != nil {
		if err := schema.Apply(gwy); err != nil {
			return fmt.Errorf("apply installation schema: %w", err)
		}
	}
	router := ramses.NewRouter(gwy, slog.Default())
	engine := ramses.NewEngine(tr, slog.Default(), metrics)
	framer := ramses.NewFramer(tr, slog.Default(), time.Now)

	if metricsAddr != "" {
		srv := &httpServer{addr: metricsAddr, handler: ramses.NewHTTPAPI(gwy, engine)}
		go srv.run()
		defer srv.stop(ctx)
	}

	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	slog.Info("starting main loop")
	for {
		select {
		case <-ctx.Done():
			slog.Info("exiting due to signal")
			<-done
			return nil
		default:
		}
		pkt, err := framer.Next()
		if err != nil {
			slog.Error("framer stopped", "err", err)
			stop()
			<-done
			return err
		}
		msg := ramses.DecodeMessage(pkt)
		engine.Dispatch(msg)
		if err := router.Route(msg); err != nil {
			slog.Warn("route failed", "code", pkt.Code, "err", err)
		}
	}
}
