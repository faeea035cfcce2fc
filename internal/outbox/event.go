// Package outbox はドメインイベントの定義と、登録済みコンシューマへの配信を提供する。
package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/notekeeper/internal/model"
)

// EventAppuserDeleted は利用者の退会を表すイベント種別。
const EventAppuserDeleted = "appuser.deleted"

// AppuserDeleted は退会した利用者のIDを運ぶペイロード。
type AppuserDeleted struct {
	AppuserID string `json:"appuserId"`
}

// NewPublication はペイロードをJSONに変換してアウトボックスエントリを生成する。
func NewPublication(eventType string, payload any, createdAt time.Time) (*model.EventPublication, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}
	return &model.EventPublication{
		ID:        uuid.New().String(),
		EventType: eventType,
		Payload:   data,
		CreatedAt: createdAt,
	}, nil
}

// DecodeAppuserDeleted はAppuserDeletedイベントのペイロードを復元する。
func DecodeAppuserDeleted(pub *model.EventPublication) (AppuserDeleted, error) {
	var ev AppuserDeleted
	if pub.EventType != EventAppuserDeleted {
		return ev, fmt.Errorf("unexpected event type %q", pub.EventType)
	}
	if err := json.Unmarshal(pub.Payload, &ev); err != nil {
		return ev, fmt.Errorf("failed to decode %s payload: %w", EventAppuserDeleted, err)
	}
	if ev.AppuserID == "" {
		return ev, errors.New("appuserId is empty")
	}
	return ev, nil
}
