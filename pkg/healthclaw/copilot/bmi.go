package copilot

import (
	"fmt"

	"github.com/jholhewres/healthclaw/pkg/healthclaw/database"
)

// BMICategory names the WHO adult category for a BMI value.
func BMICategory(bmi float64) string {
	switch {
	case bmi <= 0:
		return "Unknown"
	case bmi < 18.5:
		return "Underweight"
	case bmi < 25:
		return "Normal weight"
	case bmi < 30:
		return "Overweight"
	default:
		return "Obese"
	}
}

// DescribeBMI renders "22.9 (Normal weight)", or "" without measurements.
func DescribeBMI(body *database.BodyRecord) string {
	bmi := body.BMI()
	if bmi <= 0 {
		return ""
	}
	return fmt.Sprintf("%.1f (%s)", bmi, BMICategory(bmi))
}
