package detect

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"net"
	"regexp"
	"strings"
	"unicode"
)

type patternRule struct {
	entityType string
	name       string
	re         *regexp.Regexp
	accept     func(candidate string) bool
}

var patternRules = []patternRule{
	{entityType: "EMAIL_ADDRESS", name: "email", re: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{entityType: "PHONE_NUMBER", name: "phone", re: regexp.MustCompile(`\+?\d[\d\s\-]{7,}\d`)},
	{entityType: "IP_ADDRESS", name: "ipv4", re: regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), accept: validIP},
	{entityType: "CREDIT_CARD", name: "card", re: regexp.MustCompile(`\b(?:\d[ \-]?){12,18}\d\b`), accept: luhnValid},
	{entityType: "API_KEY", name: "token", re: regexp.MustCompile(`\b[A-Za-z0-9_\-]{20,}\b`), accept: func(s string) bool {
		return hasAlphaNum(s) && ShannonEntropy(s) >= 3.2
	}},
	{entityType: "JWT", name: "jwt", re: regexp.MustCompile(`\b[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\b`), accept: looksLikeJWT},
	{entityType: "AWS_ACCESS_KEY", name: "aws_access_key_id", re: regexp.MustCompile(`\bAKIA[A-Z0-9]{16}\b`)},
	{entityType: "AWS_SECRET_KEY", name: "aws_secret_access_key", re: regexp.MustCompile(`\b[A-Za-z0-9/+=]{40}\b`), accept: func(s string) bool {
		return ShannonEntropy(s) >= 4.0
	}},
	{entityType: "AWS_SESSION_TOKEN", name: "aws_session_token", re: regexp.MustCompile(`\b(?:AQoDYXdz|IQoJb3JpZ2luX2Vj)[A-Za-z0-9/+=]{20,}\b`)},
	{entityType: "GCP_API_KEY", name: "gcp_api_key", re: regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{35,40}\b`)},
	{entityType: "GCP_SERVICE_ACCOUNT", name: "gcp_service_account", re: regexp.MustCompile(`(?s)\{.*?"type"\s*:\s*"service_account".*?"private_key"\s*:\s*".*?BEGIN PRIVATE KEY.*?END PRIVATE KEY.*?".*?"client_email"\s*:\s*".+?".*?\}`), accept: looksLikeServiceAccountJSON},
	{entityType: "AZURE_CONNECTION_STRING", name: "azure_connection_string", re: regexp.MustCompile(`(?i)\bDefaultEndpointsProtocol=https;AccountName=[^;\s]+;AccountKey=[^;\s]+;EndpointSuffix=[^;\s]+\b`)},
	{entityType: "AZURE_SAS_TOKEN", name: "azure_sas_token", re: regexp.MustCompile(`\bsv=[^\s&]+&ss=[^\s&]+&srt=[^\s&]+&sp=[^\s&]+&se=[^\s&]+&st=[^\s&]+&spr=[^\s&]+&sig=[^\s&]+\b`)},
	{entityType: "PRIVATE_KEY", name: "pem_private_key", re: regexp.MustCompile(`(?s)-----BEGIN (?:RSA|DSA|EC|OPENSSH|PRIVATE) PRIVATE KEY-----.*?-----END (?:RSA|DSA|EC|OPENSSH|PRIVATE) PRIVATE KEY-----`)},
	{entityType: "DB_URL", name: "database_url", re: regexp.MustCompile(`\b(?:postgres(?:ql)?|mysql|mongodb|redis)://[^\s"']+`), accept: func(s string) bool {
		return strings.Contains(s, "@") && strings.Contains(s, ":")
	}},
	{entityType: "HEX_SECRET", name: "hex", re: regexp.MustCompile(`\b[a-fA-F0-9]{32,}\b`)},
	{entityType: "HIGH_ENTROPY", name: "entropy", re: regexp.MustCompile(`\b[A-Za-z0-9+/=_\-]{32,}\b`), accept: func(s string) bool {
		return ShannonEntropy(s) >= 4.5
	}},
}

// PatternEntityTypes lists every entity type the pattern engine can emit.
func PatternEntityTypes() []string {
	out := make([]string, 0, len(patternRules))
	for _, r := range patternRules {
		out = append(out, r.entityType)
	}
	return out
}

type PatternConfig struct {
	DefaultEntities []string
	Confidence      ConfidencePolicy
}

// PatternEngine is the in-process recognizer built from regular expressions
// and entropy checks. It never needs external resources and always loads.
type PatternEngine struct {
	defaults []string
	policy   ConfidencePolicy
}

func NewPatternEngine(cfg PatternConfig) *PatternEngine {
	return &PatternEngine{
		defaults: cfg.DefaultEntities,
		policy:   PatternConfidence().Merge(cfg.Confidence),
	}
}

func (e *PatternEngine) Kind() Kind { return KindPattern }

func (e *PatternEngine) Detect(ctx context.Context, text string, opts Options) ([]Finding, error) {
	filter := resolveEntities(opts.Entities, e.defaults)
	out := make([]Finding, 0)
	for _, rule := range patternRules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !allowed(filter, rule.entityType) {
			continue
		}
		score := e.policy.Score(rule.entityType)
		if score < opts.Threshold {
			continue
		}
		for _, idx := range rule.re.FindAllStringIndex(text, -1) {
			candidate := text[idx[0]:idx[1]]
			if rule.accept != nil && !rule.accept(candidate) {
				continue
			}
			f, ok := NewFinding(text, rule.entityType, idx[0], idx[1], score, map[string]any{
				"recognizer":   "pattern",
				"pattern_name": rule.name,
			})
			if ok {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

func hasAlphaNum(s string) bool {
	hasDigit, hasLetter := false, false
	for _, r := range s {
		if unicode.IsDigit(r) {
			hasDigit = true
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	return hasDigit && hasLetter
}

func looksLikeJWT(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return false
	}
	for i, p := range parts {
		if p == "" {
			return false
		}
		if _, err := base64.RawURLEncoding.DecodeString(p); err != nil {
			// signature segment may carry padding
			if i == 2 {
				continue
			}
			return false
		}
	}
	return true
}

func looksLikeServiceAccountJSON(s string) bool {
	var payload map[string]any
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		return false
	}
	str := func(v any) string {
		s, _ := v.(string)
		return s
	}
	return strings.EqualFold(str(payload["type"]), "service_account") &&
		strings.Contains(str(payload["private_key"]), "BEGIN PRIVATE KEY") &&
		str(payload["client_email"]) != ""
}

func validIP(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

func luhnValid(s string) bool {
	digits := make([]int, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// ShannonEntropy returns the per-rune Shannon entropy of s in bits.
func ShannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := map[rune]float64{}
	total := 0.0
	for _, r := range s {
		freq[r]++
		total++
	}
	var res float64
	for _, count := range freq {
		p := count / total
		res -= p * math.Log2(p)
	}
	return res
}
