package auction

import "fmt"

// Status 代表拍賣商品的生命週期狀態
type Status string

const (
	// StatusDraft 賣家建立後尚未開賣
	StatusDraft Status = "draft"
	// StatusActive 開賣中，可接受出價
	StatusActive Status = "active"
	// StatusEnded 已結標但尚未結算，只存在於結算交易內部
	StatusEnded Status = "ended"
	// StatusSettled 已結算並產生訂單
	StatusSettled Status = "settled"
	// StatusCancelled 結標時沒有任何有效出價
	StatusCancelled Status = "cancelled"
)

// Event 代表會觸發狀態轉移的事件
type Event string

const (
	// EventOpen 賣家開賣或排程到達開賣時間
	EventOpen Event = "open"
	// EventClose 結標時間到達或賣家提前結標
	EventClose Event = "close"
	// EventSettle 結算成功，得標出價轉為訂單
	EventSettle Event = "settle"
	// EventCancel 結標時沒有有效出價
	EventCancel Event = "cancel"
)

// transitions 是唯一的狀態轉移表，所有元件都必須透過 Next 改變狀態，
// 不允許各自檢查狀態旗標
var transitions = map[Status]map[Event]Status{
	StatusDraft: {
		EventOpen: StatusActive,
	},
	StatusActive: {
		EventClose: StatusEnded,
	},
	StatusEnded: {
		EventSettle: StatusSettled,
		EventCancel: StatusCancelled,
	},
}

// Terminal 回報狀態是否為終態，終態不允許任何轉移
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusCancelled
}

// Valid 回報是否為已知狀態
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusEnded, StatusSettled, StatusCancelled:
		return true
	}
	return false
}

// Next 依轉移表計算事件發生後的下一個狀態，
// 不合法的組合一律回傳 ErrInvalidInput
func Next(s Status, e Event) (Status, error) {
	if events, ok := transitions[s]; ok {
		if next, ok := events[e]; ok {
			return next, nil
		}
	}
	return s, fmt.Errorf("%w: no transition from %q on %q", ErrInvalidInput, s, e)
}
