package utils

import "math"

// RoundToTwoDecimals округляет до двух знаков для показа на странице статуса
func RoundToTwoDecimals(value float64) float64 {
	return math.Round(value*100) / 100
}
