package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satmount/tracker/station"
)

type Server struct {
	st *station.Station

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     station.Status
}

func NewServer(st *station.Station) *Server {
	s := &Server{st: st}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	return s
}

// watchStatus polls the station and wakes the websocket writers when
// anything changed.
func (s *Server) watchStatus(ctx context.Context) error {
	t := time.NewTicker(200 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.statusCond.Broadcast()
			return ctx.Err()
		case <-t.C:
		}
		status := s.st.Status()
		s.statusMu.Lock()
		changed := !reflect.DeepEqual(status, s.status)
		s.status = status
		s.statusMu.Unlock()
		if changed {
			s.statusCond.Broadcast()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(s.st.Status())
	if err != nil {
		log.Print(err)
		return
	}
	w.Write(data)
}

type Command struct {
	Command   string  `json:"command"`
	Azimuth   float64 `json:"azimuth"`
	Elevation float64 `json:"elevation"`
	Name      string  `json:"name"`
	Line1     string  `json:"line1"`
	Line2     string  `json:"line2"`
}

func (s *Server) apply(ctx context.Context, msg Command) error {
	switch msg.Command {
	case "target":
		return s.st.ManualTarget(msg.Azimuth, msg.Elevation)
	case "tle":
		return s.st.SetTLE(msg.Name, msg.Line1, msg.Line2)
	case "home":
		return s.st.StartHoming(ctx)
	case "stop":
		s.st.Stop()
	case "estop":
		s.st.EmergencyStop()
	case "reset_estop":
		s.st.ResetEmergencyStop()
	default:
		return fmt.Errorf("unknown command %q", msg.Command)
	}
	return nil
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	// Read and process incoming messages
	go func() {
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				cancel()
				conn.Close()
				break
			}
			if err := s.apply(ctx, msg); err != nil {
				log.Printf("%v command %q: %v", conn.RemoteAddr(), msg.Command, err)
			}
		}
	}()

	send := func(status station.Status) bool {
		data, err := json.Marshal(status)
		if err != nil {
			log.Print(err)
			return false
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Print(err)
			return false
		}
		return true
	}

	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()
	if !send(status) {
		return
	}

	for ctx.Err() == nil {
		s.statusMu.RLock()
		s.statusCond.Wait()
		status := s.status
		s.statusMu.RUnlock()
		if !send(status) {
			return
		}
	}
}
