package webhook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyHMACSignature(t *testing.T) {
	secret := "test-secret-key"
	body := []byte(`{"inputs":["/data/a.raw"]}`)
	signed := Sign(body, secret)

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		wantErr   bool
	}{
		{name: "github format", body: body, signature: signed, secret: secret},
		{name: "plain hex", body: body, signature: strings.TrimPrefix(signed, "sha256="), secret: secret},
		{name: "wrong signature", body: body, signature: "sha256=" + strings.Repeat("0", 64), secret: secret, wantErr: true},
		{name: "tampered body", body: []byte(`{"inputs":["/etc/passwd"]}`), signature: signed, secret: secret, wantErr: true},
		{name: "wrong secret", body: body, signature: signed, secret: "other", wantErr: true},
		{name: "empty signature", body: body, signature: "", secret: secret, wantErr: true},
		{name: "empty secret", body: body, signature: signed, secret: "", wantErr: true},
		{name: "not hex", body: body, signature: "sha256=zz", secret: secret, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyHMACSignature(tt.body, tt.signature, tt.secret)
			if tt.wantErr {
				assert.ErrorIs(t, err, errVerification)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSign(t *testing.T) {
	// echo -n 'hello' | openssl dgst -sha256 -hmac key
	assert.Equal(t,
		"sha256=9307b3b915efb5171ff14d8cb55fbcc798c6c0ef1456d66ded1a6aa723a58b7b",
		Sign([]byte("hello"), "key"))
}
