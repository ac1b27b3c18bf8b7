package transport

import (
	"encoding/json"
	"strings"

	"github.com/azzan02/Water-Quality-Dashboard/internal/domain"
)

// SignalUpdate - облегчённое уведомление: данные нужно забрать из /lora/latest
const SignalUpdate = "update"

type MessageKind int

const (
	MessageInvalid MessageKind = iota
	MessageSignal
	MessagePayload
)

// Message - разобранное push-сообщение: либо сигнал, либо готовое показание
type Message struct {
	Kind   MessageKind
	Signal string
	Sample domain.Sample
}

// Decode приводит сырое сообщение потока к одному из вариантов.
// Всё, что не является сигналом и не разбирается как JSON-объект, получает MessageInvalid.
func Decode(raw string) Message {
	text := strings.TrimSpace(raw)
	if text == SignalUpdate {
		return Message{Kind: MessageSignal, Signal: text}
	}

	var s domain.Sample
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return Message{Kind: MessageInvalid}
	}
	return Message{Kind: MessagePayload, Sample: s}
}
