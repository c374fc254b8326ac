package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/satmount/tracker/station"
)

// RunConsole is the operator CLI on stdin, for bring-up and bench
// debugging without a network frontend.
func RunConsole(ctx context.Context, st *station.Station, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "type HELP for available commands")
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd, args := strings.ToUpper(fields[0]), fields[1:]
		switch cmd {
		case "HELP", "?":
			fmt.Fprint(out, `STATUS              print the station snapshot
GOTO <az> <el>      manual target in degrees
HOME                start the homing sequence
STOP                cancel tracking and drop the target
ESTOP               latch the emergency stop
RESET               release the emergency stop
SETTLE <name>       read two element lines and start tracking
ENCODER             raw encoder counts
QUIT                exit the console
`)
		case "STATUS":
			printStatus(out, st.Status())
		case "GOTO":
			if len(args) != 2 {
				fmt.Fprintln(out, "usage: GOTO <az> <el>")
				continue
			}
			az, err1 := strconv.ParseFloat(args[0], 64)
			el, err2 := strconv.ParseFloat(args[1], 64)
			if err1 != nil || err2 != nil {
				fmt.Fprintln(out, "usage: GOTO <az> <el>")
				continue
			}
			if err := st.ManualTarget(az, el); err != nil {
				fmt.Fprintf(out, "target: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "target %.2f %.2f\n", az, el)
		case "HOME":
			if err := st.StartHoming(ctx); err != nil {
				fmt.Fprintf(out, "homing: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "homing started")
		case "STOP":
			st.Stop()
			fmt.Fprintln(out, "stopped")
		case "ESTOP":
			st.EmergencyStop()
			fmt.Fprintln(out, "EMERGENCY STOP latched")
		case "RESET":
			st.ResetEmergencyStop()
			fmt.Fprintln(out, "emergency stop released")
		case "SETTLE":
			if len(args) < 1 {
				fmt.Fprintln(out, "usage: SETTLE <name>, then paste both element lines")
				continue
			}
			name := strings.Join(args, " ")
			var lines [2]string
			for i := range lines {
				if !scanner.Scan() {
					return scanner.Err()
				}
				lines[i] = strings.TrimSpace(scanner.Text())
			}
			if err := st.SetTLE(name, lines[0], lines[1]); err != nil {
				fmt.Fprintf(out, "rejected: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "element set %q queued\n", name)
		case "ENCODER":
			s := st.Status()
			fmt.Fprintf(out, "az %d counts (%.2f deg)  el %d counts (%.2f deg)\n",
				s.RawAzCount, s.Azimuth, s.RawElCount, s.Elevation)
		case "QUIT", "EXIT":
			return nil
		default:
			fmt.Fprintf(out, "unknown command %q, type HELP\n", cmd)
		}
	}
	return scanner.Err()
}

func printStatus(out io.Writer, s station.Status) {
	fmt.Fprintf(out, "position   az %.2f  el %.2f\n", s.Azimuth, s.Elevation)
	if s.TargetValid {
		fmt.Fprintf(out, "target     az %.2f  el %.2f\n", s.TargetAzimuth, s.TargetElev)
	} else {
		fmt.Fprintln(out, "target     none")
	}
	fmt.Fprintf(out, "tracking   %v", s.Tracking)
	if s.Satellite != "" {
		fmt.Fprintf(out, " (%s)", s.Satellite)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "homed      %v (%s)\n", s.Homed, s.Homing)
	fmt.Fprintf(out, "gps        valid=%v lat=%.4f lon=%.4f\n", s.GPSValid, s.Latitude, s.Longitude)
	if s.EmergencyStop {
		fmt.Fprintln(out, "EMERGENCY STOP ACTIVE")
	}
	if s.RangeFault {
		fmt.Fprintln(out, "RANGE FAULT: homing required")
	}
}
