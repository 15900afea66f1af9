// Parser implements the priority-ordered radar line grammar of spec.md
// §4.B as a total function from a raw line to a ParseOutcome, the Go
// analogue of the tagged-union "ParseOutcome" called for in spec.md §9's
// redesign notes.
package radar

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/trafficmon/edge-pipeline/internal/models"
)

const mpsToMph = 2.237

// ParseOutcome is the result of attempting to parse one serial line.
// Ok is false when no grammar matched; SpeedMPH/Magnitude/Format are
// only meaningful when Ok is true.
type ParseOutcome struct {
	Ok        bool
	SpeedMPH  float64
	Magnitude string
	Format    models.ParseFormat
}

type jsonFrame struct {
	Speed     *float64 `json:"speed"`
	Unit      string   `json:"unit"`
	Magnitude string   `json:"magnitude"`
}

// ParseLine tries each grammar in the priority order spec.md §4.B
// defines, returning on the first match. Sign is always preserved; a
// "mps" unit is converted to mph by ×2.237.
func ParseLine(raw string) ParseOutcome {
	line := strings.TrimSpace(raw)
	if line == "" {
		return ParseOutcome{Ok: false}
	}

	if out, ok := parseCSVMagSpeed(line); ok {
		return out
	}
	if out, ok := parseJSON(line); ok {
		return out
	}
	if out, ok := parseBareNumber(line); ok {
		return out
	}
	if out, ok := parseSpaceUnit(line); ok {
		return out
	}
	if out, ok := parseCommaPair(line); ok {
		return out
	}
	return ParseOutcome{Ok: false}
}

// parseCSVMagSpeed matches `"<mag>",<speed>`, e.g. `"m",12.3`.
func parseCSVMagSpeed(line string) (ParseOutcome, bool) {
	if !strings.HasPrefix(line, `"`) {
		return ParseOutcome{}, false
	}
	end := strings.Index(line[1:], `"`)
	if end < 0 {
		return ParseOutcome{}, false
	}
	mag := line[1 : 1+end]
	rest := strings.TrimSpace(line[1+end+1:])
	rest = strings.TrimPrefix(rest, ",")
	rest = strings.TrimSpace(rest)

	speed, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return ParseOutcome{}, false
	}
	return ParseOutcome{Ok: true, SpeedMPH: speed, Magnitude: mag, Format: models.FormatCSVMagFirst}, true
}

// parseJSON matches a JSON object carrying speed/unit/magnitude.
func parseJSON(line string) (ParseOutcome, bool) {
	if !strings.HasPrefix(line, "{") {
		return ParseOutcome{}, false
	}
	var f jsonFrame
	if err := json.Unmarshal([]byte(line), &f); err != nil || f.Speed == nil {
		return ParseOutcome{}, false
	}
	speed := *f.Speed
	if strings.EqualFold(f.Unit, "mps") {
		speed *= mpsToMph
	}
	return ParseOutcome{Ok: true, SpeedMPH: speed, Magnitude: f.Magnitude, Format: models.FormatJSON}, true
}

// parseBareNumber matches a line that is only a signed decimal number.
func parseBareNumber(line string) (ParseOutcome, bool) {
	speed, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return ParseOutcome{}, false
	}
	return ParseOutcome{Ok: true, SpeedMPH: speed, Format: models.FormatBareNumber}, true
}

// parseSpaceUnit matches `<speed> <unit>`, e.g. `12.3 mph` or `5.5 mps`.
func parseSpaceUnit(line string) (ParseOutcome, bool) {
	parts := strings.Fields(line)
	if len(parts) != 2 {
		return ParseOutcome{}, false
	}
	speed, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return ParseOutcome{}, false
	}
	unit := strings.ToLower(parts[1])
	if unit != "mph" && unit != "mps" {
		return ParseOutcome{}, false
	}
	if unit == "mps" {
		speed *= mpsToMph
	}
	return ParseOutcome{Ok: true, SpeedMPH: speed, Format: models.FormatSpaceUnit}, true
}

// parseCommaPair matches `<mag>,<speed>` without quotes, e.g. `m,12.3`.
func parseCommaPair(line string) (ParseOutcome, bool) {
	parts := strings.SplitN(line, ",", 2)
	if len(parts) != 2 {
		return ParseOutcome{}, false
	}
	speed, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return ParseOutcome{}, false
	}
	return ParseOutcome{Ok: true, SpeedMPH: speed, Magnitude: strings.TrimSpace(parts[0]), Format: models.FormatCommaPair}, true
}
