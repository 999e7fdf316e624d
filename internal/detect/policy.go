package detect

import "strings"

// ConfidencePolicy assigns scores to findings from engines that do not emit
// a native confidence.
type ConfidencePolicy struct {
	Default float64
	ByType  map[string]float64
}

// Score returns the configured confidence for entityType.
func (p ConfidencePolicy) Score(entityType string) float64 {
	if v, ok := p.ByType[strings.ToUpper(entityType)]; ok {
		return v
	}
	return p.Default
}

// Merge overlays other on top of p. Zero values in other are ignored.
func (p ConfidencePolicy) Merge(other ConfidencePolicy) ConfidencePolicy {
	out := ConfidencePolicy{Default: p.Default, ByType: make(map[string]float64, len(p.ByType)+len(other.ByType))}
	for k, v := range p.ByType {
		out.ByType[k] = v
	}
	if other.Default > 0 {
		out.Default = other.Default
	}
	for k, v := range other.ByType {
		out.ByType[strings.ToUpper(k)] = v
	}
	return out
}

// SpacyConfidence mirrors the fixed confidences the spaCy backend has always
// used: people and organisations rank above the remaining labels.
func SpacyConfidence() ConfidencePolicy {
	return ConfidencePolicy{
		Default: 0.7,
		ByType:  map[string]float64{"PERSON": 0.8, "ORG": 0.8},
	}
}

// PatternConfidence holds the per-rule scores of the pattern engine.
func PatternConfidence() ConfidencePolicy {
	return ConfidencePolicy{
		Default: 0.8,
		ByType: map[string]float64{
			"EMAIL_ADDRESS":           0.99,
			"PHONE_NUMBER":            0.95,
			"IP_ADDRESS":              0.9,
			"CREDIT_CARD":             0.95,
			"API_KEY":                 0.8,
			"JWT":                     0.9,
			"AWS_ACCESS_KEY":          0.99,
			"AWS_SECRET_KEY":          0.88,
			"AWS_SESSION_TOKEN":       0.9,
			"GCP_API_KEY":             0.97,
			"GCP_SERVICE_ACCOUNT":     1.0,
			"AZURE_CONNECTION_STRING": 0.98,
			"AZURE_SAS_TOKEN":         0.95,
			"PRIVATE_KEY":             1.0,
			"DB_URL":                  0.94,
			"HEX_SECRET":              0.75,
			"HIGH_ENTROPY":            0.7,
		},
	}
}
