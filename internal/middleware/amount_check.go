package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/taskmarket/backend/internal/money"
)

const ctxAmountKey contextKey = "parsed_amount"

// MaxAmountCents caps any single money field accepted over HTTP.
const MaxAmountCents int64 = 100_000_000

// AmountFromCtx returns the cents parsed by AmountCheck, or 0 if not set.
func AmountFromCtx(ctx context.Context) int64 {
	if c, ok := ctx.Value(ctxAmountKey).(int64); ok {
		return c
	}
	return 0
}

// AmountCheck reads the JSON body, parses the money field named field
// (string like "$180.50" or a number) into cents and rejects missing,
// non-positive or oversized amounts. The body is restored so the handler
// can decode it again.
func AmountCheck(field string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var peek map[string]json.RawMessage
			if err := json.Unmarshal(bodyBytes, &peek); err != nil {
				http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
				return
			}
			cents, err := parseAmountField(peek[field])
			if err != nil {
				http.Error(w, fmt.Sprintf(`{"error":"%s must be a positive amount"}`, field), http.StatusBadRequest)
				return
			}
			if cents > MaxAmountCents {
				http.Error(w, fmt.Sprintf(`{"error":"%s exceeds limit %s"}`, field, money.FormatCents(MaxAmountCents)), http.StatusUnprocessableEntity)
				return
			}

			ctx := context.WithValue(r.Context(), ctxAmountKey, cents)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseAmountField(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, errors.New("missing")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// Numbers are parsed from their literal text to avoid float rounding.
		s = string(raw)
	}
	return money.ParseCents(s)
}
