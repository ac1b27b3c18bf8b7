package domain

// RiskLevel - уровень риска для индикатора загрязнения
type RiskLevel int

const (
	RiskUnknown RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskVeryHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "Low"
	case RiskMedium:
		return "Medium"
	case RiskHigh:
		return "High"
	case RiskVeryHigh:
		return "Very High"
	default:
		return "Unknown"
	}
}

func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Пороги в ppb: мышьяк по нормативу ВОЗ, барий по EPA MCL (2000 ppb)
var (
	arsenicThresholds = [3]float64{10, 50, 100}
	bariumThresholds  = [3]float64{500, 1000, 2000}
)

// ArsenicRisk классифицирует концентрацию мышьяка
func ArsenicRisk(v *float64) RiskLevel {
	return classify(v, arsenicThresholds)
}

// BariumRisk классифицирует концентрацию бария
func BariumRisk(v *float64) RiskLevel {
	return classify(v, bariumThresholds)
}

func classify(v *float64, limits [3]float64) RiskLevel {
	switch {
	case v == nil:
		return RiskUnknown
	case *v <= limits[0]:
		return RiskLow
	case *v <= limits[1]:
		return RiskMedium
	case *v <= limits[2]:
		return RiskHigh
	default:
		return RiskVeryHigh
	}
}
