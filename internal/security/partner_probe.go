// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/ssolink/internal/model"
)

// allowedSchemes はパートナーURLとして許可されるスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks は外部パートナーとして到達させないネットワーク範囲。
// safeurlはDialer段階でDNS解決後のIPも検証するため、ここでの照合は事前チェック用。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// ProbeResult はパートナー疎通確認の結果。
type ProbeResult struct {
	Identifier string
	URL        string
	StatusCode int
	Latency    time.Duration
	Err        error
}

// OK は疎通確認が成功したか（5xx以外の応答を得たか）を返す。
func (r ProbeResult) OK() bool {
	return r.Err == nil && r.StatusCode > 0 && r.StatusCode < 500
}

// PartnerProber はパートナーのベースURLへSSRF対策付きクライアントで疎通確認を行う。
type PartnerProber struct {
	client      *http.Client
	concurrency int
}

// NewPartnerProber はPartnerProberを生成する。
// プライベートIP、ループバック、リンクローカル、メタデータIPへの接続はsafeurlによりブロックされる。
func NewPartnerProber(timeout time.Duration, concurrency int) *PartnerProber {
	if concurrency <= 0 {
		concurrency = 4
	}
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return &PartnerProber{
		client:      safeurl.Client(config).Client,
		concurrency: concurrency,
	}
}

// ValidateURL はDNS解決を伴わない静的なURL検証を行う。
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip.String())
			}
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

// Probe は1件のパートナーのSSOログインページへHEADリクエストを送信する。
func (p *PartnerProber) Probe(ctx context.Context, partner *model.Partner) ProbeResult {
	result := ProbeResult{Identifier: partner.Identifier}

	target, err := partner.LoginURL()
	if err != nil {
		result.Err = fmt.Errorf("invalid partner url: %w", err)
		return result
	}
	result.URL = target.String()

	if err := ValidateURL(result.URL); err != nil {
		result.Err = err
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, result.URL, nil)
	if err != nil {
		result.Err = err
		return result
	}
	req.Header.Set("User-Agent", "ssolink-partner-check/1.0")

	start := time.Now()
	resp, err := p.client.Do(req)
	result.Latency = time.Since(start)
	if err != nil {
		result.Err = err
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	result.StatusCode = resp.StatusCode
	return result
}

// ProbeAll は全パートナーを並行して疎通確認する。結果は入力と同じ順序で返す。
// 個々の失敗は結果に格納され、ctxがキャンセルされた場合のみエラーを返す。
func (p *PartnerProber) ProbeAll(ctx context.Context, partners []*model.Partner) ([]ProbeResult, error) {
	results := make([]ProbeResult, len(partners))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, partner := range partners {
		g.Go(func() error {
			results[i] = p.Probe(gctx, partner)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
