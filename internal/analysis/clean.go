package analysis

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"mailassist/internal/model"
	"mailassist/pkg/util"
)

// CleanText 把 HTML 邮件正文转换为纯文本；不含标签的正文只做空白规整
func CleanText(body string) string {
	if !strings.Contains(body, "<") {
		return normalizeWhitespace(body)
	}

	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(body))
	skip := 0
	var href string

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF 或残缺的 HTML：都返回已解析的部分
			return normalizeWhitespace(sb.String())

		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Script, atom.Style, atom.Head, atom.Title:
				if tt == html.StartTagToken {
					skip++
				}
			case atom.A:
				href = attr(tok, "href")
			case atom.Li:
				sb.WriteString("\n- ")
			default:
				if isBlock(tok.DataAtom) {
					sb.WriteByte('\n')
				}
			}

		case html.EndTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Script, atom.Style, atom.Head, atom.Title:
				if skip > 0 {
					skip--
				}
			case atom.A:
				if href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(href, "mailto:") {
					fmt.Fprintf(&sb, " (%s)", href)
				}
				href = ""
			default:
				if isBlock(tok.DataAtom) {
					sb.WriteByte('\n')
				}
			}
		}
	}
}

// MessageText 返回用于 embedding 和分析的文本：主题 + 清洗后的正文
// 清洗后没有任何文本时返回 util.ErrMalformedMessage
func MessageText(msg *model.Message) (string, error) {
	subject := strings.TrimSpace(msg.Subject)
	body := CleanText(msg.Body)

	switch {
	case subject == "" && body == "":
		return "", fmt.Errorf("email %d: %w: no text after cleaning", msg.ID, util.ErrMalformedMessage)
	case body == "":
		return subject, nil
	case subject == "":
		return body, nil
	}
	return subject + "\n\n" + body, nil
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Br, atom.Div, atom.Tr, atom.Table, atom.Ul, atom.Ol,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Hr:
		return true
	}
	return false
}

// normalizeWhitespace 每行内合并空白，连续空行压缩为一行
func normalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
