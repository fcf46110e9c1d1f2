// Command panelmon is the NAS telemetry publisher's entry point: it loads
// configuration, wires probes and a publisher, and runs the Scheduler
// against either the embedded MQTT broker or an external one.
package main

import (
	log "github.com/sirupsen/logrus"
)

func main() {
	if err := Execute(); err != nil {
		log.Fatal(err)
	}
}
