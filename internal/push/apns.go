package push

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	apnsProductionURL = "https://api.push.apple.com"
	apnsSandboxURL    = "https://api.sandbox.push.apple.com"

	// Provider tokens are valid up to 60 minutes; refresh at 50 to avoid
	// edge-case expiry mid-request.
	apnsTokenRefreshInterval = 50 * time.Minute
)

// APNsSender sends data-only VoIP pushes via Apple's token-based (JWT)
// HTTP/2 provider API.
type APNsSender struct {
	client  *http.Client
	baseURL string
	topic   string

	key    *ecdsa.PrivateKey
	keyID  string
	teamID string

	mu          sync.Mutex
	cachedToken string
	tokenExpiry time.Time
}

// APNsConfig configures an APNsSender.
type APNsConfig struct {
	KeyFile  string // path to the .p8 private key file
	KeyID    string
	TeamID   string
	BundleID string
	Sandbox  bool
}

// NewAPNsSender creates an APNsSender from cfg.
func NewAPNsSender(cfg APNsConfig) (*APNsSender, error) {
	if cfg.KeyFile == "" || cfg.KeyID == "" || cfg.TeamID == "" || cfg.BundleID == "" {
		return nil, fmt.Errorf("apns: keyFile, keyId, teamId, and bundleId are all required")
	}

	keyData, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("apns: reading key file: %w", err)
	}

	key, err := parseP8PrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("apns: parsing p8 key: %w", err)
	}

	baseURL := apnsProductionURL
	if cfg.Sandbox {
		baseURL = apnsSandboxURL
	}

	slog.Info("apns sender initialized", "key_id", cfg.KeyID, "team_id", cfg.TeamID, "topic", cfg.BundleID, "sandbox", cfg.Sandbox)

	return &APNsSender{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		topic:   cfg.BundleID,
		key:     key,
		keyID:   cfg.KeyID,
		teamID:  cfg.TeamID,
	}, nil
}

// Send delivers a VoIP push to token, using the "voip" push type required
// for a data-only wake of the mobile app's call handler.
func (a *APNsSender) Send(platform, token string, payload Payload) error {
	if platform != "apns" {
		return fmt.Errorf("apns sender: unsupported platform %q", platform)
	}

	providerToken, err := a.getProviderToken()
	if err != nil {
		return fmt.Errorf("apns: generating provider token: %w", err)
	}

	body, err := buildAPNsPayload(payload)
	if err != nil {
		return fmt.Errorf("apns: building payload: %w", err)
	}

	url := fmt.Sprintf("%s/3/device/%s", a.baseURL, token)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("apns: creating request: %w", err)
	}
	req.Header.Set("Authorization", "bearer "+providerToken)
	req.Header.Set("apns-topic", a.topic+".voip")
	req.Header.Set("apns-push-type", "voip")
	req.Header.Set("apns-priority", "10")
	req.Header.Set("apns-expiration", "0")
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("apns: sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		slog.Debug("apns push sent", "apns_id", resp.Header.Get("apns-id"), "call_id", payload.CallID)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	var apnsErr apnsErrorResponse
	if json.Unmarshal(respBody, &apnsErr) == nil && apnsErr.Reason != "" {
		return fmt.Errorf("apns: %s (status %d)", apnsErr.Reason, resp.StatusCode)
	}
	return fmt.Errorf("apns: unexpected status %d: %s", resp.StatusCode, string(respBody))
}

func (a *APNsSender) getProviderToken() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cachedToken != "" && time.Now().Before(a.tokenExpiry) {
		return a.cachedToken, nil
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:   a.teamID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = a.keyID

	signed, err := tok.SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}

	a.cachedToken = signed
	a.tokenExpiry = now.Add(apnsTokenRefreshInterval)
	return signed, nil
}

type apnsErrorResponse struct {
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// apnsVoIPPayload is the JSON body APNs expects for a VoIP push: no
// "aps" dictionary, just the data fields the mobile handler reads.
type apnsVoIPPayload struct {
	Type           string         `json:"type"`
	CallID         string         `json:"callId"`
	CallerNumber   string         `json:"callerNumber,omitempty"`
	CallerName     string         `json:"callerName,omitempty"`
	SIPCredentials SIPCredentials `json:"sipCredentials"`
}

func buildAPNsPayload(p Payload) ([]byte, error) {
	return json.Marshal(apnsVoIPPayload{
		Type:           p.Type,
		CallID:         p.CallID,
		CallerNumber:   p.CallerNumber,
		CallerName:     p.CallerName,
		SIPCredentials: p.SIPCredentials,
	})
}

// parseP8PrivateKey parses Apple's PKCS#8 PEM-encoded ECDSA P-256 .p8 key.
func parseP8PrivateKey(pemData []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS8 key: %w", err)
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is not ECDSA")
	}
	return ecKey, nil
}
