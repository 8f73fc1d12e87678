package project

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// 入力可能な文字: 文字、数字、空白と一部の記号
var textPattern = regexp.MustCompile(`^[\p{L}\p{N}\s!@#$%&*()\-+='",;.]+$`)

const allowedSymbols = `!@#$%&*()-+='",;.`

const (
	MaxTitleLength       = 100
	MaxSummaryLength     = 200
	MaxDescriptionLength = 1000
)

// fields は正規化済みのスカラー項目。
type fields struct {
	title       string
	summary     string
	description string
}

// validateFields はタイトル・概要・説明を正規化して検証する。
// 違反があった項目名とメッセージを返す。
func validateFields(sub Submission) (fields, map[string]string) {
	f := fields{
		title:       strings.TrimSpace(sub.Title),
		summary:     strings.TrimSpace(sub.Summary),
		description: strings.TrimSpace(sub.Description),
	}
	errs := map[string]string{}

	switch {
	case f.title == "":
		errs["title"] = "タイトルは必須です。"
	case utf8.RuneCountInString(f.title) > MaxTitleLength:
		errs["title"] = fmt.Sprintf("タイトルは%d文字以内で入力してください。", MaxTitleLength)
	case !textPattern.MatchString(f.title):
		errs["title"] = "タイトルに使用できない文字が含まれています（使用可能な記号: " + allowedSymbols + "）。"
	}

	checkOptional := func(name, label, value string, max int) {
		if value == "" {
			return
		}
		if utf8.RuneCountInString(value) > max {
			errs[name] = fmt.Sprintf("%sは%d文字以内で入力してください。", label, max)
			return
		}
		if !textPattern.MatchString(value) {
			errs[name] = label + "に使用できない文字が含まれています（使用可能な記号: " + allowedSymbols + "）。"
		}
	}
	checkOptional("summary", "概要", f.summary, MaxSummaryLength)
	checkOptional("description", "説明", f.description, MaxDescriptionLength)

	return f, errs
}

// resolveMainIndex は範囲外の指定を0に丸める。
func resolveMainIndex(index, count int) int {
	if index < 0 || index >= count {
		return 0
	}
	return index
}
