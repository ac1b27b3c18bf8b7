package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Имена полей на проводе (регистр важен)
const (
	FieldID        = "id"
	FieldTimestamp = "timestamp"
	FieldPH        = "pH"
	FieldDO        = "DO"
	FieldEC        = "EC"
	FieldTDS       = "TDS"
	FieldTemp      = "Temp"
	FieldArsenic   = "Arsenic"
	FieldBarium    = "Barium"
	FieldLat       = "Lat"
	FieldLon       = "Lon"
)

// MeasurementFields перечисляет числовые показания датчиков в порядке отображения
var MeasurementFields = []string{
	FieldPH, FieldDO, FieldEC, FieldTDS, FieldTemp, FieldArsenic, FieldBarium,
}

var numericFields = append(append([]string{}, MeasurementFields...), FieldLat, FieldLon)

// Sample представляет одно показание датчиков с опциональными GPS-координатами.
// Все числовые поля опциональны; Timestamp служит ключом дедупликации.
type Sample struct {
	ID        string
	Timestamp Timestamp
	PH        *float64
	DO        *float64
	EC        *float64
	TDS       *float64
	Temp      *float64
	Arsenic   *float64
	Barium    *float64
	Lat       *float64
	Lon       *float64

	// Extra хранит неизвестные ключи как есть
	Extra map[string]json.RawMessage

	keys int
}

// Point - точка GPS-трека
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Uplink представляет сырое сообщение LoRa-шлюза до разбора
type Uplink struct {
	ID         uuid.UUID `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	Topic      string    `json:"topic"`
	Payload    []byte    `json:"payload"`
}

// Float возвращает указатель на значение; удобно для литералов в коде и тестах
func Float(v float64) *float64 {
	return &v
}

// IsEmpty сообщает, что в объекте не было ни одного ключа ({}).
func (s Sample) IsEmpty() bool {
	if s.keys > 0 || s.ID != "" || s.Timestamp != "" || len(s.Extra) > 0 {
		return false
	}
	for _, f := range numericFields {
		if s.Value(f) != nil {
			return false
		}
	}
	return true
}

// Value возвращает значение поля по его имени на проводе или nil
func (s Sample) Value(field string) *float64 {
	if p := (&s).fieldPtr(field); p != nil {
		return *p
	}
	return nil
}

// Position возвращает координаты, если они присутствуют и корректны
func (s Sample) Position() (Point, bool) {
	if s.Lat == nil || s.Lon == nil {
		return Point{}, false
	}
	lat, lon := *s.Lat, *s.Lon
	if math.IsNaN(lat) || math.IsNaN(lon) || math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return Point{}, false
	}
	return Point{Lat: lat, Lon: lon}, true
}

func (s *Sample) fieldPtr(field string) **float64 {
	switch field {
	case FieldPH:
		return &s.PH
	case FieldDO:
		return &s.DO
	case FieldEC:
		return &s.EC
	case FieldTDS:
		return &s.TDS
	case FieldTemp:
		return &s.Temp
	case FieldArsenic:
		return &s.Arsenic
	case FieldBarium:
		return &s.Barium
	case FieldLat:
		return &s.Lat
	case FieldLon:
		return &s.Lon
	}
	return nil
}

// SetValue выставляет числовое поле по имени; неизвестные имена игнорируются
func (s *Sample) SetValue(field string, v *float64) bool {
	p := s.fieldPtr(field)
	if p == nil {
		return false
	}
	*p = v
	return true
}

func (s *Sample) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*s = Sample{keys: len(raw)}
	for key, value := range raw {
		switch key {
		case FieldTimestamp:
			if err := json.Unmarshal(value, &s.Timestamp); err != nil {
				return fmt.Errorf("field %s: %w", key, err)
			}
		case FieldID:
			id, err := decodeID(value)
			if err != nil {
				return fmt.Errorf("field %s: %w", key, err)
			}
			s.ID = id
		default:
			if p := s.fieldPtr(key); p != nil {
				v, err := decodeNumber(value)
				if err != nil {
					return fmt.Errorf("field %s: %w", key, err)
				}
				*p = v
				continue
			}
			if s.Extra == nil {
				s.Extra = make(map[string]json.RawMessage)
			}
			s.Extra[key] = value
		}
	}
	return nil
}

func (s Sample) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+11)
	for k, v := range s.Extra {
		out[k] = v
	}
	if s.ID != "" {
		out[FieldID] = s.ID
	}
	if s.Timestamp != "" {
		out[FieldTimestamp] = string(s.Timestamp)
	}
	for _, f := range numericFields {
		if v := s.Value(f); v != nil {
			out[f] = *v
		}
	}
	return json.Marshal(out)
}

// decodeNumber принимает число, числовую строку или null.
// Нечисловая строка даёт nil, как и на стороне сервера.
func decodeNumber(raw json.RawMessage) (*float64, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return nil, nil
	}
	if text[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return nil, err
		}
		return ParseNumber(str), nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("not a number: %s", text)
	}
	return &v, nil
}

func decodeID(raw json.RawMessage) (string, error) {
	text := strings.TrimSpace(string(raw))
	if text == "null" {
		return "", nil
	}
	if strings.HasPrefix(text, `"`) {
		var str string
		err := json.Unmarshal(raw, &str)
		return str, err
	}
	if _, err := strconv.ParseFloat(text, 64); err != nil {
		return "", fmt.Errorf("unsupported id %s", text)
	}
	return text, nil
}

// ParseNumber разбирает строку в число; пустая или нечисловая строка даёт nil
func ParseNumber(str string) *float64 {
	str = strings.TrimSpace(str)
	if str == "" {
		return nil
	}
	v, err := strconv.ParseFloat(str, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// SortByTimestamp сортирует показания по возрастанию Timestamp, сохраняя порядок равных
func SortByTimestamp(samples []Sample) {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
}
