// Package evidence defines how payment evidence is identified across
// repeated ingestion runs.
package evidence

import (
	"strings"
)

type Kind string

const (
	KindReceipt    Kind = "receipt"
	KindBankCredit Kind = "bank_credit"
)

// Identity is the deduplication key of one piece of evidence. Receipts are
// keyed by message and attachment file name, bank credits by message alone.
type Identity struct {
	Kind      Kind
	MessageID string
	FileName  string
}

func ForReceipt(messageID, fileName string) Identity {
	return Identity{Kind: KindReceipt, MessageID: messageID, FileName: fileName}
}

func ForBankCredit(messageID string) Identity {
	return Identity{Kind: KindBankCredit, MessageID: messageID}
}

// Key is the stored unique value. File names are compared case-insensitively
// because mail clients re-case them between fetches.
func (i Identity) Key() string {
	switch i.Kind {
	case KindReceipt:
		return string(i.Kind) + ":" + strings.TrimSpace(i.MessageID) + ":" + strings.ToLower(strings.TrimSpace(i.FileName))
	default:
		return string(i.Kind) + ":" + strings.TrimSpace(i.MessageID)
	}
}

func (i Identity) Valid() bool {
	if strings.TrimSpace(i.MessageID) == "" {
		return false
	}
	if i.Kind == KindReceipt {
		return strings.TrimSpace(i.FileName) != ""
	}
	return i.Kind == KindBankCredit
}

func (i Identity) String() string { return i.Key() }
