package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/okian/bikeharvest/internal/domain/model"
)

var electricKeys = []string{"motor", "battery", "drive unit", "driveunit", "e-bike system", "ebike system", "e-system", "assist"}

var (
	powerPattern   = regexp.MustCompile(`(?i)(\d{2,4})\s*w\b`)
	torquePattern  = regexp.MustCompile(`(?i)(\d{2,3})\s*nm\b`)
	batteryPattern = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(k?)wh\b`)
	rangePattern   = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*km\b`)
)

// Electric derives the drive sub-object. It returns nil unless a motor,
// battery, drive unit or assist system is present; a remote or display alone
// does not make a bike electric. Unparseable numbers leave the text fields
// only.
func Electric(f Fields) *model.ElectricDrive {
	var motor, battery, display, other []string
	visit := func(key, val string) {
		k := strings.ToLower(key)
		switch {
		case strings.Contains(k, "motor"), strings.Contains(k, "drive unit"), strings.Contains(k, "driveunit"):
			motor = append(motor, val)
		case strings.Contains(k, "battery"):
			battery = append(battery, val)
		case strings.Contains(k, "display"):
			display = append(display, val)
		case isElectricKey(k):
			other = append(other, val)
		}
	}
	for _, k := range sortedKeys(f.Specs) {
		visit(k, f.Specs[k])
	}
	for _, g := range sortedKeys(f.Components) {
		group := f.Components[g]
		for _, k := range sortedKeys(group) {
			visit(k, group[k])
		}
	}
	if len(motor)+len(battery)+len(other) == 0 {
		return nil
	}

	d := &model.ElectricDrive{
		Motor:   strings.Join(motor, "; "),
		Battery: strings.Join(battery, "; "),
		Display: strings.Join(display, "; "),
	}
	motorText := strings.Join(append(append([]string{}, motor...), other...), " ")
	batteryText := strings.Join(append(append([]string{}, battery...), other...), " ")
	if d.Motor == "" {
		d.Motor = strings.Join(other, "; ")
	}

	if m := powerPattern.FindStringSubmatch(motorText); m != nil {
		d.MotorPowerW, _ = strconv.Atoi(m[1])
	}
	if m := torquePattern.FindStringSubmatch(motorText); m != nil {
		d.MotorTorqueNm, _ = strconv.Atoi(m[1])
	}
	if m := batteryPattern.FindStringSubmatch(batteryText); m != nil {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err == nil {
			if m[2] != "" {
				v *= 1000
			}
			d.BatteryWh = int(v + 0.5)
		}
	}
	if m := rangePattern.FindStringSubmatch(strings.Join([]string{motorText, batteryText, f.Specs["Range"]}, " ")); m != nil {
		d.RangeKm, _ = strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	}
	return d
}

func isElectricKey(k string) bool {
	for _, e := range electricKeys {
		if strings.Contains(k, e) {
			return true
		}
	}
	return false
}
