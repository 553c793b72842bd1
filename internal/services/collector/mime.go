package collector

import (
	"payment-evidence-backend/internal/mailbox"
	"payment-evidence-backend/internal/services/extraction"
)

// attachment is a slip-capable leaf of a message's MIME tree.
type attachment struct {
	part        *mailbox.Part
	contentType string
}

// slipAttachments walks the MIME tree depth-first with an explicit stack and
// returns the named PDF and image leaves in document order.
func slipAttachments(root *mailbox.Part) []attachment {
	if root == nil {
		return nil
	}

	var out []attachment
	stack := []*mailbox.Part{root}
	for len(stack) > 0 {
		part := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if len(part.Parts) > 0 {
			// push in reverse so the first child is visited first
			for i := len(part.Parts) - 1; i >= 0; i-- {
				if part.Parts[i] != nil {
					stack = append(stack, part.Parts[i])
				}
			}
			continue
		}

		if part.Filename == "" {
			continue
		}
		ct := extraction.ContentTypeFor(part.MimeType, part.Filename)
		if extraction.IsSlipType(ct) {
			out = append(out, attachment{part: part, contentType: ct})
		}
	}
	return out
}
