package toolexecutor

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/harun/agentic/pkg/message"
)

// AttachmentTag is the prefix tools print to hand a file back to the turn
const AttachmentTag = "__tools_attachment__"

var attachmentPattern = regexp.MustCompile(AttachmentTag + `=(\{.*?\})`)

type taggedFile struct {
	FilePath string `json:"filepath"`
	MimeType string `json:"mimetype"`
}

// extractAttachments pulls tagged files out of tool output. Each tag is
// replaced by a file marker in the returned content.
func extractAttachments(content string) (string, []message.Attachment) {
	matches := attachmentPattern.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return content, nil
	}

	var (
		b           strings.Builder
		attachments []message.Attachment
		last        int
	)
	for _, m := range matches {
		var f taggedFile
		if err := json.Unmarshal([]byte(content[m[2]:m[3]]), &f); err != nil || f.FilePath == "" {
			continue
		}
		b.WriteString(content[last:m[0]])
		b.WriteString(message.FileMarker(f.FilePath))
		last = m[1]
		attachments = append(attachments, message.Attachment{
			URI:      "file://" + f.FilePath,
			MimeType: f.MimeType,
		})
	}
	b.WriteString(content[last:])
	return b.String(), attachments
}
