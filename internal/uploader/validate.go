package uploader

import (
	"strings"
)

// Rule constrains one category of uploads by extension and size.
// MaxSize 0 means unlimited.
type Rule struct {
	Extensions []string
	MIMEPrefix string
	MaxSize    int64
}

// DefaultRules covers the common image, video and document formats.
var DefaultRules = map[string]Rule{
	"image": {
		Extensions: []string{"jpeg", "jpg", "png", "gif", "bmp", "svg", "webp", "ico"},
		MIMEPrefix: "image/",
		MaxSize:    10 << 20,
	},
	"video": {
		Extensions: []string{"mp4", "webm", "avi", "mov", "wmv", "flv", "3gp", "mkv", "mpg", "mpeg"},
		MIMEPrefix: "video/",
		MaxSize:    512 << 20,
	},
	"document": {
		Extensions: []string{"pdf", "doc", "docx", "xls", "xlsx", "csv", "txt"},
		MaxSize:    50 << 20,
	},
}

func (r Rule) allowsExt(ext string) bool {
	for _, allowed := range r.Extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// validateSources checks live file handles against the configured rules.
// Temporary-disk paths are skipped: they were validated before staging.
func (u *Uploader) validateSources(files []Source) error {
	for _, src := range files {
		file, ok := src.(*File)
		if !ok {
			continue
		}
		if err := u.validateFile(file); err != nil {
			return err
		}
	}
	return nil
}

func (u *Uploader) validateFile(file *File) error {
	ext := file.Ext()

	rule, ok := u.ruleForExt(ext)
	if !ok {
		return &ValidationError{Name: file.Name, Reason: "extension ." + ext + " is not allowed"}
	}

	if rule.MaxSize > 0 && file.Size() > rule.MaxSize {
		return &ValidationError{Name: file.Name, Reason: "file exceeds maximum size"}
	}

	// Content sniffing: the detected type must match the rule's category,
	// so a renamed binary cannot pass as an image.
	if rule.MIMEPrefix != "" && !strings.HasPrefix(file.MIME(), rule.MIMEPrefix) {
		return &ValidationError{Name: file.Name, Reason: "content does not match extension (detected " + file.MIME() + ")"}
	}

	return nil
}

func (u *Uploader) ruleForExt(ext string) (Rule, bool) {
	for _, rule := range u.rules {
		if rule.allowsExt(ext) {
			return rule, true
		}
	}
	return Rule{}, false
}
