package auction

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BidKind 區分手動出價和代理出價
type BidKind string

const (
	// BidKindManual 手動出價，出多少付多少
	BidKindManual BidKind = "manual"
	// BidKindProxy 代理出價，系統會自動幫買家加價到上限為止
	BidKindProxy BidKind = "proxy"
)

// Candidate 是參與決標計算的一筆出價。
// Limit 是這筆出價能推進到的最高金額：手動出價等於 Amount，
// 代理出價等於買家設定的上限（上限永遠不會對其他買家揭露）
type Candidate struct {
	BidID       uuid.UUID
	BidderID    uuid.UUID
	Kind        BidKind
	Amount      int64
	Limit       int64
	SubmittedAt time.Time
}

// Outcome 是一次決標計算的結果
type Outcome struct {
	// LeaderID 決標後領先的出價
	LeaderID uuid.UUID
	// Price 領先出價的新有效金額，也就是商品目前價格
	Price int64
	// ChallengerLeads 挑戰者是否成為新的領先者
	ChallengerLeads bool
	// SupersededID 這一輪被淘汰的出價（舊領先者或挑戰者本身），
	// 沒有人被淘汰時為 uuid.Nil
	SupersededID uuid.UUID
	// ChallengerEffective 挑戰者這筆出價要記錄的有效金額：
	// 手動出價是出價金額，代理出價被淘汰時是防守後的價格，
	// 代理上限不會寫進這裡
	ChallengerEffective int64
}

// Resolve 對單一商品執行一次決標計算。
// 這是一個純函數：輸入相同的出價序列必定得到相同的領先者和價格，
// 所有跟儲存有關的動作都由呼叫端在同一筆交易內完成。
//
// 規則（標準英式拍賣的代理出價語意）：
//   - 沒有領先者時，出價只需達到起標價；代理出價的起始價格是起標價，
//     手動出價的價格就是出價金額
//   - 有領先者時，挑戰者的上限必須至少比目前價格高一個增額，
//     否則以 ErrBidTooLow 拒絕
//   - 挑戰者上限高於領先者上限時領先權轉移，新價格是
//     min(挑戰者上限, 領先者上限+增額)，贏家不必付出全部上限
//   - 否則領先者自動防守，價格抬升到 min(領先者上限, 挑戰者上限+增額)，
//     挑戰者直接被淘汰；上限同額時由先出價者繼續領先（submitted-at 決勝）
func Resolve(startingPrice, increment int64, leader *Candidate, leaderPrice int64, challenger Candidate) (Outcome, error) {
	if leader == nil {
		if challenger.Limit < startingPrice {
			return Outcome{}, fmt.Errorf("%w: limit %d is below starting price %d", ErrBidTooLow, challenger.Limit, startingPrice)
		}
		price := startingPrice
		if challenger.Kind == BidKindManual {
			price = challenger.Amount
		}
		return Outcome{
			LeaderID:            challenger.BidID,
			Price:               price,
			ChallengerLeads:     true,
			ChallengerEffective: price,
		}, nil
	}

	// 推不動一個增額的出價直接拒絕
	if challenger.Limit < leaderPrice+increment {
		return Outcome{}, fmt.Errorf("%w: limit %d cannot raise current price %d by increment %d", ErrBidTooLow, challenger.Limit, leaderPrice, increment)
	}

	if challenger.Limit > leader.Limit {
		// 領先權轉移，舊領先者被淘汰
		price := min(challenger.Limit, leader.Limit+increment)
		if challenger.Kind == BidKindManual {
			// 手動出價成為領先者時，有效金額等於出價金額
			price = challenger.Amount
		}
		return Outcome{
			LeaderID:            challenger.BidID,
			Price:               price,
			ChallengerLeads:     true,
			SupersededID:        leader.BidID,
			ChallengerEffective: price,
		}, nil
	}

	// 領先者防守成功：上限同額時領先者因先出價而勝出
	price := min(leader.Limit, challenger.Limit+increment)
	// 被淘汰的代理出價記錄的是防守後的價格，上限不落進任何可讀欄位
	effective := price
	if challenger.Kind == BidKindManual {
		effective = challenger.Amount
	}
	return Outcome{
		LeaderID:            leader.BidID,
		Price:               price,
		ChallengerLeads:     false,
		SupersededID:        challenger.BidID,
		ChallengerEffective: effective,
	}, nil
}
