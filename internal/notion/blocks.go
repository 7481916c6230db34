package notion

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jomei/notionapi"
	"golang.org/x/net/html"
)

// maxTextLength is the longest content Notion accepts in one rich text item
const maxTextLength = 2000

// ConvertHTML converts rendered page markup to Notion blocks. Only the
// structure Notion can show is kept: headings, paragraphs, lists, code and
// table rows flattened to text.
func ConvertHTML(body string) []notionapi.Block {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return []notionapi.Block{paragraphBlock(collapse(body))}
	}
	b := &blockBuilder{}
	b.walk(doc.Find("body"))
	b.flush()
	return b.blocks
}

type blockBuilder struct {
	blocks []notionapi.Block
	inline []string
}

func (b *blockBuilder) walk(sel *goquery.Selection) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		switch node.Type {
		case html.TextNode:
			b.inline = append(b.inline, node.Data)
			return
		case html.ElementNode:
		default:
			return
		}

		switch name := goquery.NodeName(s); name {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			b.flush()
			b.add(headingBlock(collapse(s.Text()), int(name[1]-'0')))
		case "p", "blockquote":
			b.flush()
			b.add(paragraphBlock(collapse(s.Text())))
		case "pre":
			b.flush()
			if text := strings.TrimRight(s.Text(), "\n"); strings.TrimSpace(text) != "" {
				b.blocks = append(b.blocks, codeBlock(text))
			}
		case "ul", "ol":
			b.flush()
			s.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
				b.add(listBlock(collapse(li.Text()), name == "ol"))
			})
		case "table":
			b.flush()
			s.Find("tr").Each(func(_ int, tr *goquery.Selection) {
				var cells []string
				tr.Children().Each(func(_ int, td *goquery.Selection) {
					cells = append(cells, collapse(td.Text()))
				})
				b.add(paragraphBlock(strings.Join(cells, " | ")))
			})
		case "div", "section", "article", "main", "header", "footer", "nav":
			b.flush()
			b.walk(s)
			b.flush()
		case "br":
			b.flush()
		case "script", "style":
		default:
			b.inline = append(b.inline, s.Text())
		}
	})
}

// flush turns buffered inline content into a paragraph
func (b *blockBuilder) flush() {
	text := collapse(strings.Join(b.inline, ""))
	b.inline = b.inline[:0]
	b.add(paragraphBlock(text))
}

// add appends a block unless it carries no text
func (b *blockBuilder) add(block notionapi.Block) {
	if block != nil {
		b.blocks = append(b.blocks, block)
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// richText splits text into items of at most maxTextLength characters
func richText(text string) []notionapi.RichText {
	runes := []rune(text)
	var out []notionapi.RichText
	for len(runes) > maxTextLength {
		out = append(out, notionapi.RichText{Text: &notionapi.Text{Content: string(runes[:maxTextLength])}})
		runes = runes[maxTextLength:]
	}
	return append(out, notionapi.RichText{Text: &notionapi.Text{Content: string(runes)}})
}

func headingBlock(text string, level int) notionapi.Block {
	if text == "" {
		return nil
	}
	heading := notionapi.Heading{RichText: richText(text)}
	switch level {
	case 1:
		return &notionapi.Heading1Block{
			BasicBlock: notionapi.BasicBlock{Object: "block", Type: notionapi.BlockTypeHeading1},
			Heading1:   heading,
		}
	case 2:
		return &notionapi.Heading2Block{
			BasicBlock: notionapi.BasicBlock{Object: "block", Type: notionapi.BlockTypeHeading2},
			Heading2:   heading,
		}
	default:
		return &notionapi.Heading3Block{
			BasicBlock: notionapi.BasicBlock{Object: "block", Type: notionapi.BlockTypeHeading3},
			Heading3:   heading,
		}
	}
}

func paragraphBlock(text string) notionapi.Block {
	if text == "" {
		return nil
	}
	return &notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{Object: "block", Type: notionapi.BlockTypeParagraph},
		Paragraph:  notionapi.Paragraph{RichText: richText(text)},
	}
}

func codeBlock(text string) notionapi.Block {
	return &notionapi.CodeBlock{
		BasicBlock: notionapi.BasicBlock{Object: "block", Type: notionapi.BlockTypeCode},
		Code: notionapi.Code{
			RichText: richText(text),
			Language: "plain text",
		},
	}
}

func listBlock(text string, numbered bool) notionapi.Block {
	if text == "" {
		return nil
	}
	item := notionapi.ListItem{RichText: richText(text)}
	if numbered {
		return &notionapi.NumberedListItemBlock{
			BasicBlock:       notionapi.BasicBlock{Object: "block", Type: notionapi.BlockTypeNumberedListItem},
			NumberedListItem: item,
		}
	}
	return &notionapi.BulletedListItemBlock{
		BasicBlock:       notionapi.BasicBlock{Object: "block", Type: notionapi.BlockTypeBulletedListItem},
		BulletedListItem: item,
	}
}
