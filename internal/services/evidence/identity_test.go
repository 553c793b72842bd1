package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityKey(t *testing.T) {
	tests := []struct {
		name string
		id   Identity
		want string
	}{
		{"receipt", ForReceipt("msg-1", "Slip.PDF"), "receipt:msg-1:slip.pdf"},
		{"receipt trims", ForReceipt(" msg-1 ", " slip.pdf "), "receipt:msg-1:slip.pdf"},
		{"bank credit ignores file", Identity{Kind: KindBankCredit, MessageID: "msg-2", FileName: "x"}, "bank_credit:msg-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.id.Key())
		})
	}
}

func TestIdentityDistinguishesAttachments(t *testing.T) {
	a := ForReceipt("msg-1", "slip-1.pdf")
	b := ForReceipt("msg-1", "slip-2.pdf")
	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, a.Key(), ForReceipt("msg-1", "SLIP-1.pdf").Key())
	assert.NotEqual(t, ForBankCredit("msg-1").Key(), ForReceipt("msg-1", "").Key())
}

func TestIdentityValid(t *testing.T) {
	assert.True(t, ForReceipt("m", "f").Valid())
	assert.False(t, ForReceipt("m", "").Valid())
	assert.False(t, ForReceipt("", "f").Valid())
	assert.True(t, ForBankCredit("m").Valid())
	assert.False(t, ForBankCredit(" ").Valid())
}
