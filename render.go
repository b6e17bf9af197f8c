package novasite

import (
	"context"
	"strings"

	"github.com/a-h/templ"
)

// renderString renders a templ component into a string, for mail bodies.
func renderString(ctx context.Context, cmp templ.Component) (string, error) {
	var b strings.Builder
	if err := cmp.Render(ctx, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}
