package bokun_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oldtowntours/ticketdesk/internal/bokun"
)

func signedHeaders(secret string) http.Header {
	h := http.Header{}
	h.Set("X-Bokun-Topic", "bookings/update")
	h.Set("X-Bokun-Booking-Id", "12345")
	h.Set("X-Bokun-Timestamp", "2026-08-29T10:00:00Z")
	h.Set("Content-Type", "application/json")
	h.Set(bokun.SignatureHeader, bokun.Sign(h, secret))
	return h
}

func TestVerifier_Verify(t *testing.T) {
	const secret = "shared-secret"

	t.Run("valid signature passes", func(t *testing.T) {
		v := bokun.NewVerifier(secret)
		assert.True(t, v.Verify(signedHeaders(secret)))
	})

	t.Run("wrong secret fails", func(t *testing.T) {
		v := bokun.NewVerifier("other-secret")
		assert.False(t, v.Verify(signedHeaders(secret)))
	})

	t.Run("tampered header fails", func(t *testing.T) {
		v := bokun.NewVerifier(secret)
		h := signedHeaders(secret)
		h.Set("X-Bokun-Booking-Id", "12346")
		assert.False(t, v.Verify(h))
	})

	t.Run("tampered signature fails", func(t *testing.T) {
		v := bokun.NewVerifier(secret)
		h := signedHeaders(secret)
		sig := h.Get(bokun.SignatureHeader)
		h.Set(bokun.SignatureHeader, "x"+sig[1:])
		assert.False(t, v.Verify(h))
	})

	t.Run("missing signature header fails", func(t *testing.T) {
		v := bokun.NewVerifier(secret)
		h := signedHeaders(secret)
		h.Del(bokun.SignatureHeader)
		assert.False(t, v.Verify(h))
	})

	t.Run("empty header set fails", func(t *testing.T) {
		v := bokun.NewVerifier(secret)
		assert.False(t, v.Verify(http.Header{}))
	})

	t.Run("no secret disables verification", func(t *testing.T) {
		v := bokun.NewVerifier("")
		assert.False(t, v.Enabled())
		assert.False(t, v.Verify(signedHeaders(secret)))
	})
}

func TestCanonicalHeaderString(t *testing.T) {
	h := http.Header{}
	h.Set("X-Bokun-Zebra", "last")
	h.Set("X-Bokun-Alpha", "first")
	h.Set("X-Bokun-Hmac", "excluded")
	h.Set("Authorization", "excluded-too")

	got := bokun.CanonicalHeaderString(h)

	assert.Equal(t, "x-bokun-alpha=first&x-bokun-zebra=last", got)
}

func TestCanonicalHeaderString_EncodesValues(t *testing.T) {
	h := http.Header{}
	h.Set("X-Bokun-Topic", "bookings/update")

	assert.Equal(t, "x-bokun-topic=bookings%2Fupdate", bokun.CanonicalHeaderString(h))
}
