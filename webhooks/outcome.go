package webhooks

import (
	"net/http"
	"unicode/utf8"
)

type Verdict string

const (
	VerdictDelivered Verdict = "delivered"
	VerdictPermanent Verdict = "permanent"
	VerdictTransient Verdict = "transient"
)

// ClassifyOutcome maps one send result to a verdict. Any transport error,
// 429, or 5xx is transient; other non-2xx responses are permanent.
func ClassifyOutcome(statusCode int, sendErr error) Verdict {
	if sendErr != nil {
		return VerdictTransient
	}
	switch {
	case statusCode >= 200 && statusCode < 300:
		return VerdictDelivered
	case statusCode == http.StatusTooManyRequests:
		return VerdictTransient
	case statusCode >= 500:
		return VerdictTransient
	case statusCode <= 0:
		return VerdictTransient
	default:
		return VerdictPermanent
	}
}

func truncateBody(body []byte, limit int) string {
	if limit <= 0 || len(body) <= limit {
		return string(body)
	}
	cut := body[:limit]
	for len(cut) > 0 && !utf8.Valid(cut) {
		cut = cut[:len(cut)-1]
	}
	return string(cut)
}
