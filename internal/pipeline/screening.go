package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"veracity/internal/broadcast"
	"veracity/internal/capability"
	"veracity/internal/llm"
	"veracity/internal/session"
	"veracity/internal/types"
)

// Threat tags emitted by screening.
const (
	ThreatScamLanguage        = "scam_language"
	ThreatGamblingContent     = "gambling_content"
	ThreatPhishingIndicators  = "phishing_indicators"
	ThreatUrgencyTactics      = "urgency_tactics"
	ThreatSuspiciousDomain    = "suspicious_domain"
	ThreatNoSSL               = "no_ssl"
	ThreatIPAddressURL        = "ip_address_url"
	ThreatUnusualPort         = "unusual_port"
	ThreatExcessiveSubdomains = "excessive_subdomains"
	ThreatMalware             = "malware_distribution"
	ThreatCredentialHarvest   = "credential_harvesting"
	ThreatAIGeneratedImage    = "ai_generated_image"
	ThreatDeepfakeMedia       = "deepfake_media"
	ThreatManipulatedMedia    = "manipulated_media"
)

// ScreeningConfig carries the tuned keyword and pattern lists. The values are
// empirically chosen constants, exposed as configuration rather than law.
type ScreeningConfig struct {
	ScamKeywords      []string
	GamblingKeywords  []string
	PhishingPatterns  []string
	UrgencyWords      []string
	TrustedIndicators []string
	SuspiciousTLDs    []string
}

func DefaultScreeningConfig() ScreeningConfig {
	return ScreeningConfig{
		ScamKeywords: []string{
			"free money", "guaranteed win", "claim your prize", "wire transfer",
			"limited offer", "double your", "crypto giveaway", "investment returns",
			"congratulations you", "lottery winner",
		},
		GamblingKeywords: []string{
			"casino", "jackpot", "betting", "slots", "poker bonus",
		},
		PhishingPatterns: []string{
			`verify your (account|identity|password)`,
			`suspended.{0,20}account`,
			`click (here|below) to (confirm|restore|unlock)`,
			`update your (billing|payment) (info|information|details)`,
		},
		UrgencyWords: []string{
			"urgent", "immediately", "act now", "limited time", "expire",
		},
		TrustedIndicators: []string{
			"privacy policy", "contact us", "terms of service", "about us",
		},
		SuspiciousTLDs: []string{
			".tk", ".ml", ".ga", ".cf", ".gq", ".xyz", ".top", ".click",
		},
	}
}

// Screening runs risk analysis over the session input and commits a
// RiskAssessment carrying the router's short-circuit decision.
type Screening struct {
	Store     *session.Store
	Bus       *broadcast.Broadcaster
	Extractor capability.Extractor
	LLM       llm.Client
	Router    *Router
	Config    ScreeningConfig
}

func (s *Screening) Stage() session.Stage { return session.StageScreening }

func (s *Screening) Input(id string) (types.AnalysisInput, error) {
	sess, err := s.Store.Get(id)
	if err != nil {
		return types.AnalysisInput{}, err
	}
	return sess.Input, nil
}

func (s *Screening) Output(id string) (*types.RiskAssessment, error) {
	sess, err := s.Store.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Screening, nil
}

func (s *Screening) Status(id string) (string, error) {
	return SlotStatus(s.Store, id, session.StageScreening)
}

// Run screens the session input. Idempotent: a committed slot returns the
// committed assessment without re-executing or re-notifying.
func (s *Screening) Run(ctx context.Context, id string) (*types.RiskAssessment, error) {
	sess, err := s.Store.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.IsCommitted(session.StageScreening) {
		return sess.Screening, nil
	}

	s.Bus.Publish(id, broadcast.Event{
		Type:  broadcast.EventStageStarted,
		Stage: string(session.StageScreening),
	})

	input := sess.Input
	if input.Type == "" || input.Type == types.InputText {
		if detectInputType(input.Text) == types.InputURL {
			input.Type = types.InputURL
			input.URL = strings.TrimSpace(input.Text)
		} else {
			input.Type = types.InputText
		}
	}

	assessment := s.analyze(ctx, input)
	decision := s.Router.Decide(assessment, input.Type)
	assessment.SkipToFinal = decision.Skip
	assessment.SkipReason = decision.Reason

	updated, err := s.Store.Put(id, sess.Generation, session.Update{
		Stage:       session.StageScreening,
		Final:       true,
		Status:      session.StatusRunning,
		Screening:   assessment,
		SkipToFinal: decision.Skip,
		SkipReason:  decision.Reason,
	})
	if err != nil {
		return nil, err
	}
	return updated.Screening, nil
}

var urlPattern = regexp.MustCompile(`(?i)^https?://(?:(?:[A-Z0-9](?:[A-Z0-9-]{0,61}[A-Z0-9])?\.)+[A-Z]{2,6}\.?|localhost|\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})(?::\d+)?(?:/?|[/?]\S+)$`)

func detectInputType(input string) types.InputType {
	if urlPattern.MatchString(strings.TrimSpace(input)) {
		return types.InputURL
	}
	return types.InputText
}

func (s *Screening) analyze(ctx context.Context, input types.AnalysisInput) *types.RiskAssessment {
	var (
		threats    []string
		flags      []string
		confidence float64
		title      string
		text       = input.Text
	)

	switch input.Type {
	case types.InputURL:
		urlThreats, urlFlags, urlScore := quickURLCheck(input.URL, s.Config)
		threats = append(threats, urlThreats...)
		flags = append(flags, urlFlags...)
		confidence += urlScore
		if s.Extractor != nil {
			if page, err := s.Extractor.Extract(ctx, input.URL); err == nil {
				title, text = page.Title, page.Text
			} else {
				flags = append(flags, "page content could not be fetched")
			}
		}
	case types.InputImage:
		imgThreats, imgFlags, imgScore := s.probeImage(ctx, input)
		threats = append(threats, imgThreats...)
		flags = append(flags, imgFlags...)
		confidence += imgScore
	}

	contentThreats, contentFlags, contentScore := analyzeText(title, text, s.Config)
	threats = append(threats, contentThreats...)
	flags = append(flags, contentFlags...)
	confidence += contentScore

	if confidence > 0.99 {
		confidence = 0.99
	}
	if confidence < 0 {
		confidence = 0
	}

	tier, recommendation := tierFor(confidence, len(threats))
	return &types.RiskAssessment{
		Tier:           tier,
		Confidence:     round2(confidence),
		Threats:        dedupe(threats),
		RedFlags:       flags,
		Recommendation: recommendation,
		ScrapedTitle:   title,
		ScrapedText:    clip(text, 4000),
	}
}

func quickURLCheck(raw string, cfg ScreeningConfig) (threats, flags []string, score float64) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return nil, []string{"input looks like a URL but could not be parsed"}, 0.1
	}
	host := strings.ToLower(parsed.Hostname())

	if regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`).MatchString(host) {
		threats = append(threats, ThreatIPAddressURL)
		flags = append(flags, "URL addresses a raw IP instead of a domain")
		score += 0.2
	}
	if port := parsed.Port(); port != "" && port != "80" && port != "443" && port != "8080" {
		threats = append(threats, ThreatUnusualPort)
		flags = append(flags, "URL uses an unusual port")
		score += 0.1
	}
	if parsed.Scheme != "https" {
		threats = append(threats, ThreatNoSSL)
		flags = append(flags, "Not using HTTPS encryption")
		score += 0.1
	}
	if strings.Count(host, ".") > 3 {
		threats = append(threats, ThreatExcessiveSubdomains)
		flags = append(flags, "Domain has an excessive subdomain chain")
		score += 0.1
	}
	for _, tld := range cfg.SuspiciousTLDs {
		if strings.HasSuffix(host, tld) {
			threats = append(threats, ThreatSuspiciousDomain)
			flags = append(flags, fmt.Sprintf("Uses suspicious TLD: %s", tld))
			score += 0.3
			break
		}
	}
	return threats, flags, score
}

func analyzeText(title, text string, cfg ScreeningConfig) (threats, flags []string, score float64) {
	combined := strings.ToLower(title + " " + text)
	if strings.TrimSpace(combined) == "" {
		return nil, nil, 0
	}

	scamMatches := 0
	for _, kw := range cfg.ScamKeywords {
		if strings.Contains(combined, kw) {
			scamMatches++
		}
	}
	if scamMatches >= 3 {
		threats = append(threats, ThreatScamLanguage)
		flags = append(flags, fmt.Sprintf("Contains %d scam-related keywords", scamMatches))
		score += 0.3
	}

	gambling := 0
	for _, kw := range cfg.GamblingKeywords {
		if strings.Contains(combined, kw) {
			gambling++
		}
	}
	if gambling >= 2 {
		threats = append(threats, ThreatGamblingContent)
		flags = append(flags, "Contains gambling-related content")
		score += 0.2
	}

	phishing := 0
	for _, pattern := range cfg.PhishingPatterns {
		if re, err := regexp.Compile(pattern); err == nil && re.MatchString(combined) {
			phishing++
		}
	}
	if phishing >= 1 {
		threats = append(threats, ThreatPhishingIndicators)
		flags = append(flags, "Contains phishing-style language")
		score += 0.4
	}

	urgency := 0
	for _, w := range cfg.UrgencyWords {
		if strings.Contains(combined, w) {
			urgency++
		}
	}
	if urgency >= 2 {
		threats = append(threats, ThreatUrgencyTactics)
		flags = append(flags, "Uses urgency/pressure tactics")
		score += 0.2
	}

	trusted := 0
	for _, ind := range cfg.TrustedIndicators {
		if strings.Contains(combined, ind) {
			trusted++
		}
	}
	if trusted == 0 {
		flags = append(flags, "No trust indicators found (privacy policy, contact info, etc.)")
		score += 0.1
	} else {
		score -= 0.1 * float64(trusted)
	}

	return threats, flags, score
}

// probeImage asks the reasoning capability for fabricated-media indicators on
// an image input. A probe failure degrades to a neutral result.
func (s *Screening) probeImage(ctx context.Context, input types.AnalysisInput) (threats, flags []string, score float64) {
	if s.LLM == nil {
		return nil, []string{"image probe unavailable"}, 0
	}
	prompt := `You screen images for fabrication. Given the image description and metadata,
judge whether the image is likely AI-generated, a deepfake, or otherwise manipulated.

Return STRICT JSON ONLY:
{"fabricated": true|false, "indicators": ["ai_generated_image"|"deepfake_media"|"manipulated_media", ...], "confidence": 0.0, "notes": "string"}`

	raw, err := s.LLM.GenerateJSON(ctx, prompt, map[string]any{
		"description": input.Text,
		"metadata":    input.Metadata,
	})
	if err != nil {
		return nil, []string{"image probe failed; proceeding without media analysis"}, 0
	}
	var out struct {
		Fabricated bool     `json:"fabricated"`
		Indicators []string `json:"indicators"`
		Confidence float64  `json:"confidence"`
		Notes      string   `json:"notes"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, []string{"image probe returned malformed output"}, 0
	}
	if !out.Fabricated {
		return nil, nil, 0
	}
	for _, ind := range out.Indicators {
		switch ind {
		case ThreatAIGeneratedImage, ThreatDeepfakeMedia, ThreatManipulatedMedia:
			threats = append(threats, ind)
		}
	}
	if len(threats) == 0 {
		threats = append(threats, ThreatManipulatedMedia)
	}
	if out.Notes != "" {
		flags = append(flags, out.Notes)
	}
	return threats, flags, out.Confidence * 0.6
}

func tierFor(confidence float64, threatCount int) (types.RiskTier, string) {
	switch {
	case confidence >= 0.6 || threatCount >= 3:
		return types.RiskDangerous, "HIGH RISK: This content shows multiple red flags. Avoid engaging with this site/information."
	case confidence >= 0.3 || threatCount >= 1:
		return types.RiskSuspicious, "CAUTION: This content shows some warning signs. Proceed with extreme caution and verify information independently."
	default:
		return types.RiskSafe, "This content appears relatively safe, but always exercise caution online."
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
