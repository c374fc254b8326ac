package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
)

// ListenRotctld speaks enough of the hamlib rotctld protocol for
// gpredict and friends to point the mount.
func (s *Server) ListenRotctld(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go func() {
		for ctx.Err() == nil {
			conn, err := ln.Accept()
			if err != nil {
				log.Printf("rotctld accept: %v", err)
				continue
			}
			go s.serveRotctld(conn)
		}
	}()
	return nil
}

// parseRotctlLine splits a protocol line into command and arguments.
// Commands come as a single character ("P 12.5 45") or long form
// prefixed with +\ ("+\set_pos 12.5 45"); the latter asks for the
// extended reply format.
func parseRotctlLine(line string) (cmd string, args []string, extended bool) {
	if strings.HasPrefix(line, `+\`) {
		fields := strings.Fields(line[2:])
		if len(fields) == 0 {
			return "", nil, true
		}
		return fields[0], fields[1:], true
	}
	cmd = line[:1]
	args = strings.Fields(line[1:])
	return cmd, args, false
}

const rotctldCaps = `Model name: SatMount
Mfg name: SatMount
Rot type: Az-El
Min Azimuth: 0.00
Max Azimuth: 360.00
Min Elevation: 0.00
Max Elevation: 90.00
Can set Position: Y
Can get Position: Y
Can Stop: Y
Can Park: Y
Can Reset: N
Can Move: N
Can get Info: N
`

func (s *Server) serveRotctld(conn net.Conn) {
	defer conn.Close()
	log.Printf("rotctld client %v connected", conn.RemoteAddr())
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		cmd, args, extended := parseRotctlLine(line)
		if extended {
			fmt.Fprintf(conn, "%s:\n", cmd)
		}
		rprt := s.rotctlCommand(conn, cmd, args, &extended)
		if extended || rprt != 0 {
			fmt.Fprintf(conn, "RPRT %d\n", rprt)
		}
	}
	if err := sc.Err(); err != nil {
		log.Printf("rotctld client %v: %v", conn.RemoteAddr(), err)
	}
}

// rotctlCommand runs one command and returns its RPRT code. Commands
// with no inline reply always report, even in short form; extended is
// raised for those.
func (s *Server) rotctlCommand(conn net.Conn, cmd string, args []string, extended *bool) int {
	switch cmd {
	case "1", "dump_caps":
		fmt.Fprint(conn, rotctldCaps)
		return 0
	case "S", "stop":
		*extended = true
		s.st.Stop()
		return 0
	case "K", "park":
		*extended = true
		s.st.ManualTarget(0, 0)
		return 0
	case "P", "set_pos":
		*extended = true
		az, el, ok := parsePos(args)
		if !ok {
			return -22
		}
		if s.st.ManualTarget(az, el) != nil {
			return -22
		}
		return 0
	case "p", "get_pos":
		status := s.st.Status()
		az := status.Azimuth
		if az > 180 {
			az -= 360
		}
		if *extended {
			fmt.Fprintf(conn, "Azimuth: %.6f\nElevation: %.6f\n", az, status.Elevation)
		} else {
			fmt.Fprintf(conn, "%.6f\n%.6f\n", az, status.Elevation)
		}
		return 0
	}
	return -1
}

func parsePos(args []string) (az, el float64, ok bool) {
	if len(args) != 2 {
		return 0, 0, false
	}
	az, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, 0, false
	}
	el, err = strconv.ParseFloat(args[1], 64)
	if err != nil {
		return 0, 0, false
	}
	// gpredict sends azimuths as -180..180.
	if az < 0 {
		az += 360
	}
	return az, el, true
}
