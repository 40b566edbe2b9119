package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/web3guy0/whalecopy/internal/domain"
)

// httpClient is shared by every venue adapter; its 30s Timeout bounds
// every call, and a request built with http.NewRequestWithContext is also
// cut off when its context ends.
var httpClient = &http.Client{Timeout: 30 * time.Second}

// hmacSHA256Hex signs message with key the way Binance's and Bybit's
// REST APIs expect: hex-encoded HMAC-SHA256.
func hmacSHA256Hex(key, message string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// hmacSHA256Base64 signs message the way OKX and Bitget expect: base64
// over the raw HMAC-SHA256 digest.
func hmacSHA256Base64(key, message string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func doRequest(req *http.Request) ([]byte, int, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrRetryableNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: reading response body: %v", domain.ErrRetryableNetwork, err)
	}
	return body, resp.StatusCode, nil
}
