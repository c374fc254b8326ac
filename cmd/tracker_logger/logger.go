// tracker_logger subscribes to the station's status websocket and
// writes every snapshot to InfluxDB.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	client := influxdb2.NewClient(envOr("INFLUX_SERVER", "http://localhost:9999"), os.Getenv("INFLUX_TOKEN"))
	defer client.Close()
	writeApi := client.WriteApi("satmount", "tracker.raw")
	defer writeApi.Close()
	go func() {
		for err := range writeApi.Errors() {
			log.Printf("influx write: %v", err)
		}
	}()

	url := envOr("TRACKER_ADDRESS", "ws://localhost:8502/api/ws")
	for {
		if err := follow(writeApi, url); err != nil {
			log.Print(err)
		}
		time.Sleep(time.Second)
	}
}

// follow reads status documents off the websocket until the connection
// drops, writing one point per document.
func follow(writeApi api.WriteApi, url string) error {
	defer writeApi.Flush()
	var dialer websocket.Dialer
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	for {
		var status interface{}
		if err := conn.ReadJSON(&status); err != nil {
			return err
		}
		fields := make(map[string]interface{})
		flatten(fields, status, "")
		// The satellite name is a tag, so a pass can be pulled out of
		// the bucket with one filter.
		var tags map[string]string
		if name, ok := fields["Satellite"].(string); ok && name != "" {
			tags = map[string]string{"satellite": name}
		}
		writeApi.WritePoint(influxdb2.NewPoint("tracker.status", tags, fields, time.Now()))
	}
}

// flatten turns the nested status document into dotted field names,
// since Influx fields are flat.
func flatten(fields map[string]interface{}, v interface{}, prefix string) {
	switch v := v.(type) {
	case map[string]interface{}:
		for k, child := range v {
			flatten(fields, child, prefix+"."+k)
		}
	case []interface{}:
		for i, child := range v {
			flatten(fields, child, fmt.Sprintf("%s.%d", prefix, i))
		}
	default:
		fields[prefix[1:]] = v
	}
}
