package analysis

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"mailassist/internal/model"
)

var (
	// $1,000.00 / $ 500 / 1,000 dollars / 250.50 USD
	dollarPattern = regexp.MustCompile(`(?i)\$\s?([0-9][0-9,]*(?:\.[0-9]{1,2})?)|\b([0-9][0-9,]*(?:\.[0-9]{1,2})?)\s?(?:dollars?|usd)\b`)

	casePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:case\s+(?:no\.?|number)|matter\s+no\.?|docket\s+no\.?)\s*#?\s*[a-z0-9\-]*[0-9][a-z0-9\-]*`),
		regexp.MustCompile(`\b[A-Z][A-Za-z0-9\-]*\s+v\.?\s+[A-Z][A-Za-z0-9\-]*`),
	}
)

const spanRadius = 60

// ExtractMonetaryReferences 抽取美元金额及其上下文片段，按出现顺序返回
func ExtractMonetaryReferences(text string) []model.MonetaryReference {
	refs := []model.MonetaryReference{}
	for _, loc := range dollarPattern.FindAllStringSubmatchIndex(text, -1) {
		var raw string
		switch {
		case loc[2] >= 0:
			raw = text[loc[2]:loc[3]]
		case loc[4] >= 0:
			raw = text[loc[4]:loc[5]]
		default:
			continue
		}

		amount, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
		if err != nil {
			continue
		}
		refs = append(refs, model.MonetaryReference{
			Amount:   amount,
			Currency: "USD",
			Text:     surroundingSpan(text, loc[0], loc[1], spanRadius),
		})
	}
	return refs
}

// ExtractCaseReferences 抽取案件编号和 "X v. Y" 形式的案件名，大小写不敏感去重
func ExtractCaseReferences(text string) []string {
	type hit struct {
		pos  int
		text string
	}
	var hits []hit
	for _, re := range casePatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			hits = append(hits, hit{pos: loc[0], text: strings.Join(strings.Fields(text[loc[0]:loc[1]]), " ")})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	refs := []string{}
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		key := strings.ToLower(h.text)
		if seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, h.text)
	}
	return refs
}

// surroundingSpan 截取 [start,end) 前后各 radius 字节以内的文本，限定在同一行并对齐到 rune 边界
func surroundingSpan(text string, start, end, radius int) string {
	lo := start - radius
	if lo < 0 {
		lo = 0
	}
	if i := strings.LastIndexByte(text[lo:start], '\n'); i >= 0 {
		lo += i + 1
	}
	for lo < start && !utf8.RuneStart(text[lo]) {
		lo++
	}

	hi := end + radius
	if hi > len(text) {
		hi = len(text)
	}
	if i := strings.IndexByte(text[end:hi], '\n'); i >= 0 {
		hi = end + i
	}
	for hi > end && hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi--
	}

	return strings.TrimSpace(text[lo:hi])
}
