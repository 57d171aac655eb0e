// Binary executor is intentionally left as a stub to avoid accidental live trading during scaffolding.
package main

import (
	"log"
)

func main() {
	// Intentionally minimal: the live Binance gateway needs signed REST
	// wiring before this binary may place real orders.
	log.Println("executor stub - wire the live exchange gateway here")
}
