// Package weather is the Weather Ingestor of spec.md §4.C: a DHT22
// bit-bang read over GPIO at a configured interval, range-validated and
// stored as a latest-value hash plus a 24h-bounded time series.
// Grounded on original_source/edge_processing/dht_22_weather_service_enhanced.py
// for the protocol timing, checksum, and scaling; the Go equivalent of
// lgpio's claim/read/free cycle is periph.io/x/conn's gpio.PinIO, the
// one dependency in this module with no grounding in the example pack
// (no pack repo touches raw GPIO — justified in DESIGN.md).
package weather

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/trafficmon/edge-pipeline/internal/models"
)

const (
	minTemperatureC = -40.0
	maxTemperatureC = 80.0
	minHumidityPct  = 0.0
	maxHumidityPct  = 100.0

	bitThreshold = 40 * time.Microsecond
	levelTimeout = time.Millisecond
)

// Sensor is anything that can produce one weather reading; satisfied by
// *DHT22 and by fakes in tests.
type Sensor interface {
	Read() (models.WeatherSample, error)
}

// DHT22 reads a real sensor over a periph.io GPIO pin.
type DHT22 struct {
	pin gpio.PinIO
}

// NewDHT22 initializes the periph.io host drivers and resolves pinNum to
// a GPIO line (e.g. "GPIO4" on a Raspberry Pi header).
func NewDHT22(pinNum int) (*DHT22, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("weather: periph host init: %w", err)
	}
	pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", pinNum))
	if pin == nil {
		return nil, fmt.Errorf("weather: gpio pin %d not found", pinNum)
	}
	return &DHT22{pin: pin}, nil
}

// Read performs one full DHT22 cycle: claim output, 18ms low pulse, 30µs
// high release, switch to input, then time 40 bits by high-pulse
// duration (>40µs = 1), per spec.md §4.C.
func (d *DHT22) Read() (models.WeatherSample, error) {
	if err := d.pin.Out(gpio.Low); err != nil {
		return models.WeatherSample{}, fmt.Errorf("weather: claim output: %w", err)
	}
	time.Sleep(18 * time.Millisecond)
	if err := d.pin.Out(gpio.High); err != nil {
		return models.WeatherSample{}, fmt.Errorf("weather: release high: %w", err)
	}
	time.Sleep(30 * time.Microsecond)

	if err := d.pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return models.WeatherSample{}, fmt.Errorf("weather: claim input: %w", err)
	}

	if !waitForLevel(d.pin, gpio.Low, levelTimeout) {
		return models.WeatherSample{}, fmt.Errorf("weather: sensor did not pull low (no response)")
	}
	if !waitForLevel(d.pin, gpio.High, levelTimeout) {
		return models.WeatherSample{}, fmt.Errorf("weather: sensor ack high missing")
	}
	if !waitForLevel(d.pin, gpio.Low, levelTimeout) {
		return models.WeatherSample{}, fmt.Errorf("weather: sensor ack low missing")
	}

	var bits [40]bool
	for i := 0; i < 40; i++ {
		if !waitForLevel(d.pin, gpio.High, levelTimeout) {
			return models.WeatherSample{}, fmt.Errorf("weather: timed out waiting for bit %d start", i)
		}
		start := time.Now()
		if !waitForLevel(d.pin, gpio.Low, levelTimeout) {
			return models.WeatherSample{}, fmt.Errorf("weather: timed out waiting for bit %d end", i)
		}
		bits[i] = time.Since(start) > bitThreshold
	}

	return decodeFrame(bitsToBytes(bits))
}

// decodeFrame checksum-verifies and parses a 5-byte DHT22 frame.
func decodeFrame(data [5]byte) (models.WeatherSample, error) {
	checksum := (data[0] + data[1] + data[2] + data[3]) & 0xFF
	if checksum != data[4] {
		return models.WeatherSample{}, fmt.Errorf("weather: checksum mismatch: expected %d got %d", data[4], checksum)
	}

	humidity := float64(uint16(data[0])<<8|uint16(data[1])) / 10.0
	tempRaw := uint16(data[2]&0x7f)<<8 | uint16(data[3])
	temp := float64(tempRaw) / 10.0
	if data[2]&0x80 != 0 {
		temp = -temp
	}

	if humidity < minHumidityPct || humidity > maxHumidityPct {
		return models.WeatherSample{}, fmt.Errorf("weather: humidity out of range: %.1f", humidity)
	}
	if temp < minTemperatureC || temp > maxTemperatureC {
		return models.WeatherSample{}, fmt.Errorf("weather: temperature out of range: %.1f", temp)
	}

	return models.WeatherSample{
		Timestamp:    time.Now(),
		TemperatureC: temp,
		HumidityPct:  humidity,
		SourceTag:    "local_sensor",
	}, nil
}

func waitForLevel(pin gpio.PinIO, level gpio.Level, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if pin.Read() == level {
			return true
		}
	}
	return false
}

func bitsToBytes(bits [40]bool) [5]byte {
	var out [5]byte
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << uint(7-i%8)
		}
	}
	return out
}
