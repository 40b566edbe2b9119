package signal

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/web3guy0/whalecopy/internal/domain"
)

// fingerprintNamespace roots every dedup fingerprint in a fixed UUID so the
// same (whale, symbol, market, action, detection minute) always hashes to
// the same identifier regardless of which process computed it.
var fingerprintNamespace = uuid.MustParse("6f6e2d77-68e1-4c2c-93a3-b9e6c45c0cf0")

// Fingerprint derives the stable dedup key for a detected whale move:
// sha1(whale_id, symbol, market, action, is_close, detection_minute) under
// UUIDv5, truncating detection time to the minute so two poll ticks inside
// the same minute collapse onto one signal instead of creating duplicates.
func Fingerprint(whaleID uint64, symbol string, market domain.Market, action domain.Side, isClose bool, detectedAt time.Time) string {
	minute := detectedAt.UTC().Truncate(time.Minute)
	name := fmt.Sprintf("%d|%s|%s|%s|%t|%d", whaleID, symbol, market, action, isClose, minute.Unix())
	return uuid.NewSHA1(fingerprintNamespace, []byte(name)).String()
}
