package spam

import (
	"regexp"
	"strings"
	"time"

	"sheettree-backend/limiter"
)

// Verdict is the outcome of the spam checks for one payload.
type Verdict struct {
	IsSpam bool
	Reason string
}

var (
	spamKeywordRe = regexp.MustCompile(`(?i)\b(viagra|cialis|casino|lottery|jackpot|payday loan|forex signal|crypto giveaway|make money fast|work from home|click here now|free money|weight loss pill)\b`)
	urlRe         = regexp.MustCompile(`(?i)(https?://|www\.)\S+`)
	uppercaseRe   = regexp.MustCompile(`[A-Z]{10,}`)
	punctRunRe    = regexp.MustCompile(`[[:punct:]]{5,}`)
)

// BurstPolicy is the rolling per-IP window shared with the request limiter
// store: ten submissions in sixty seconds from one address flags the rest.
var BurstPolicy = limiter.Policy{Name: "burst", Limit: 10, Window: time.Minute}

// Checker runs the ordered spam heuristics. The burst check runs on the same
// limiter store as the abuse gatekeeper rather than keeping its own state.
type Checker struct {
	limiter *limiter.Limiter
}

func NewChecker(l *limiter.Limiter) *Checker {
	return &Checker{limiter: l}
}

// Check applies the checks in order; the first hit wins.
func (c *Checker) Check(payload map[string]string, honeypotField, ip string, now time.Time) Verdict {
	if honeypotField != "" {
		if v, ok := payload[honeypotField]; ok && strings.TrimSpace(v) != "" {
			return Verdict{IsSpam: true, Reason: "Honeypot field filled"}
		}
	}

	if hasSpamPatterns(payload) {
		return Verdict{IsSpam: true, Reason: "Spam pattern detected"}
	}

	if c.limiter != nil && ip != "" {
		if res := c.limiter.Allow(ip, BurstPolicy, now); !res.Allowed {
			return Verdict{IsSpam: true, Reason: "Rate limit exceeded"}
		}
	}

	return Verdict{}
}

func hasSpamPatterns(payload map[string]string) bool {
	var sb strings.Builder
	for _, v := range payload {
		sb.WriteString(v)
		sb.WriteByte(' ')
	}
	content := sb.String()

	if spamKeywordRe.MatchString(content) {
		return true
	}
	if len(urlRe.FindAllStringIndex(content, 4)) >= 3 {
		return true
	}
	if uppercaseRe.MatchString(content) {
		return true
	}
	return punctRunRe.MatchString(content)
}
