package auction

import "errors"

// 核心錯誤分類，所有元件都以這組 sentinel error 對外回報失敗原因，
// 呼叫端透過 errors.Is 判斷類別後再決定要回傳給使用者還是重試
var (
	// ErrNotFound 查無指定的商品、出價或訂單
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput 請求內容不合法（時間區間顛倒、金額非正數等）
	ErrInvalidInput = errors.New("invalid input")
	// ErrListingNotOpen 商品不在可出價的狀態或時間窗內
	ErrListingNotOpen = errors.New("listing not open for bidding")
	// ErrBidTooLow 出價不足以推進目前價格一個增額
	ErrBidTooLow = errors.New("bid too low")
	// ErrConflict 輸掉並行競爭（版本比對失敗），重試即可
	ErrConflict = errors.New("concurrent update conflict")
	// ErrAlreadyExists 唯一性限制被觸發（同一商品的第二張訂單）
	ErrAlreadyExists = errors.New("already exists")
)
