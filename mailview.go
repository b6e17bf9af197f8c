package novasite

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/a-h/templ"
)

type mailRow struct {
	label, value string
	block        bool
}

func mailRows(sub Submission) []mailRow {
	rows := []mailRow{
		{label: "Name", value: orDash(sub.Name)},
		{label: "Email", value: orDash(sub.Email)},
	}
	switch sub.Type {
	case TypeSubscriber:
		rows = append(rows, mailRow{label: "Source", value: orDash(sub.Source)})
	case TypeContact:
		rows = append(rows,
			mailRow{label: "Subject", value: orDash(sub.Subject)},
			mailRow{label: "Message", value: orDash(sub.Message), block: true},
		)
	case TypeCollab:
		rows = append(rows,
			mailRow{label: "Inquiry type", value: orDash(sub.InquiryType)},
			mailRow{label: "Message", value: orDash(sub.Message), block: true},
		)
	}
	return rows
}

// notificationEmail is the text/html alternative of a notification. Every
// user supplied value goes through templ.EscapeString.
func notificationEmail(site, label string, sub Submission, at time.Time) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<!doctype html><html><body style="font-family:sans-serif;color:#1c1917">`)
		fmt.Fprintf(&b, `<h2 style="margin:0 0 16px">%s</h2>`, templ.EscapeString(label))
		b.WriteString(`<table cellpadding="6" style="border-collapse:collapse">`)
		for _, r := range mailRows(sub) {
			value := templ.EscapeString(r.value)
			if r.block {
				value = strings.ReplaceAll(value, "\n", "<br>")
			}
			fmt.Fprintf(&b, `<tr><th align="left" valign="top">%s</th><td>%s</td></tr>`,
				templ.EscapeString(r.label), value)
		}
		b.WriteString(`</table>`)
		if sub.Type == TypeSubscriber {
			b.WriteString(`<p>This person subscribed to the newsletter.</p>`)
		}
		fmt.Fprintf(&b, `<hr><p style="font-size:12px;color:#78716c">%s Website<br>%s</p>`,
			templ.EscapeString(site), templ.EscapeString(at.Format(timestampLayout)))
		b.WriteString(`</body></html>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}
