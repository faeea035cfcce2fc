package outbox

import "time"

const (
	// initialBackoff は初回失敗後の再送までの遅延。
	initialBackoff = 30 * time.Second
	// maxBackoff は再送遅延の上限。
	maxBackoff = time.Hour
)

// CalculateBackoff は累計失敗回数に基づいて次回再送までの遅延を計算する。
// 1回目の失敗で30秒、以降2倍ずつ増加し、最大1時間。
func CalculateBackoff(attempts int) time.Duration {
	delay := initialBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
