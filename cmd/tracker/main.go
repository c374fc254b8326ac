package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/satmount/tracker/encoder"
	"github.com/satmount/tracker/gps"
	"github.com/satmount/tracker/hwrpio"
	"github.com/satmount/tracker/internal/config"
	"github.com/satmount/tracker/psu"
	"github.com/satmount/tracker/sim"
	"github.com/satmount/tracker/station"
)

var (
	configPath = flag.String("config", "", "path to the station YAML config")
	simFlag    = flag.Bool("sim", false, "run against the physics model instead of GPIO")
	console    = flag.Bool("console", false, "run the operator console on stdin")
	simLat     = flag.Float64("sim_lat", 42.36, "synthetic fix latitude in sim mode")
	simLon     = flag.Float64("sim_lon", -71.09, "synthetic fix longitude in sim mode")
	estopPin   = flag.Int("estop_pin", 0, "BCM pin of the hardware stop input, 0 to disable")
)

func main() {
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *simFlag {
		cfg.Sim = true
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	azEnc, elEnc := &encoder.Decoder{}, &encoder.Decoder{}
	g, ctx := errgroup.WithContext(ctx)

	var st *station.Station
	if cfg.Sim {
		mount := simMount(cfg, azEnc, elEnc)
		st = station.New(cfg, azEnc, elEnc, station.Outputs{Az: mount.Az, El: mount.El})
		g.Go(func() error { return mount.Run(ctx) })
		g.Go(func() error { return syntheticFix(ctx, &st.GPS) })
		log.Print("running against the physics model")
	} else {
		backend, err := hwrpio.Open(cfg, azEnc, elEnc, *estopPin)
		if err != nil {
			log.Fatal(err)
		}
		st = station.New(cfg, azEnc, elEnc, station.Outputs{Az: backend.Az(), El: backend.El()})
		g.Go(func() error { return backend.Run(ctx, st.EmergencyStop) })

		parser := &gps.NMEAParser{}
		receiver := gps.NewReceiver(&st.GPS, cfg.GPS.Baud, parser.Parse)
		g.Go(func() error {
			receiver.Watch(ctx, cfg.GPS.Port, cfg.GPSStaleAfter())
			return ctx.Err()
		})
	}

	if cfg.PSU.Device != "" {
		if err := connectPSU(ctx, cfg, st); err != nil {
			log.Fatal(err)
		}
	}

	g.Go(func() error { return st.Run(ctx) })

	srv := NewServer(st)
	g.Go(func() error { return srv.watchStatus(ctx) })
	if err := srv.ListenRotctld(ctx, cfg.Server.RotctldAddr); err != nil {
		log.Fatal(err)
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/status", srv.StatusHandler)
	r.HandleFunc("/api/ws", srv.StatusSocketHandler)
	httpSrv := &http.Server{
		Handler:     r,
		Addr:        cfg.Server.HTTPAddr,
		ReadTimeout: 15 * time.Second,
	}
	g.Go(func() error { return httpSrv.ListenAndServe() })
	g.Go(func() error {
		<-ctx.Done()
		return httpSrv.Close()
	})

	if *console {
		g.Go(func() error {
			defer cancel()
			return RunConsole(ctx, st, os.Stdin, os.Stdout)
		})
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatal(err)
	}
}

// simMount builds the physics model with both axes parked just off
// their home switches.
func simMount(cfg *config.Config, azEnc, elEnc *encoder.Decoder) *sim.Mount {
	az := sim.NewAxis(sim.AxisConfig{
		MaxVel:          20,
		Accel:           40,
		Drag:            40,
		DegreesPerPulse: cfg.Azimuth.Mechanics.DegreesPerPulse(),
		Start:           30,
		Home:            0,
		Wrap:            true,
	}, azEnc)
	el := sim.NewAxis(sim.AxisConfig{
		MaxVel:          20,
		Accel:           40,
		Drag:            40,
		DegreesPerPulse: cfg.Elevation.Mechanics.DegreesPerPulse(),
		Start:           20,
		Home:            0,
		MinStop:         cfg.Elevation.Mechanics.MinDeg,
		MaxStop:         cfg.Elevation.Mechanics.MaxDeg,
	}, elEnc)
	return &sim.Mount{Az: az, El: el}
}

// syntheticFix stands in for the GPS receiver in sim mode.
func syntheticFix(ctx context.Context, feed *gps.Feed) error {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		feed.Publish(gps.Fix{
			Latitude:  *simLat,
			Longitude: *simLon,
			Altitude:  40,
			Time:      time.Now().UTC(),
			Valid:     true,
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// connectPSU brings up the supply controller and wires its stop chain
// into the station latch.
func connectPSU(ctx context.Context, cfg *config.Config, st *station.Station) error {
	var chainWasClosed bool
	p, err := psu.Connect(ctx, cfg.PSU.Device, cfg.PSU.Baud, byte(cfg.PSU.SlaveID), func(status psu.Status) {
		if chainWasClosed && !status.StopChainClosed {
			log.Print("supply stop chain opened")
			st.EmergencyStop()
		}
		chainWasClosed = status.StopChainClosed
	})
	if err != nil {
		return err
	}
	if cfg.PSU.SpinupMs > 0 {
		if err := p.SetSpinupDelay(cfg.PSU.SpinupMs); err != nil {
			log.Printf("setting spinup delay: %v", err)
		}
	}
	if err := p.SetDrivesEnabled(true); err != nil {
		log.Printf("enabling drives: %v", err)
	}
	return nil
}
